package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/internal/infrastructure/memory"
	"auction-engine/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamServer(t *testing.T, status domain.AuctionStatus) (*httptest.Server, *ConnectionManager) {
	t.Helper()
	store := memory.NewAuctionStore()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateAuction(context.Background(), &domain.Auction{
		ID:            "a1",
		SellerID:      "seller",
		StartingPrice: decimal.NewFromInt(100),
		CurrentPrice:  decimal.NewFromInt(100),
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		Status:        status,
	}))

	cm := NewConnectionManager(logger.NewNop())
	router := mux.NewRouter()
	router.HandleFunc("/ws/auction/{auctionID}", NewStreamHandler(store, cm, logger.NewNop()).HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, cm
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestStreamHandler_SendsSnapshotAndRegisters(t *testing.T) {
	srv, cm := newStreamServer(t, domain.AuctionActive)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/auction/a1?user_id=alice"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var snapshot map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot["type"])
	assert.Equal(t, "active", snapshot["status"])
	assert.Equal(t, "100.00", snapshot["current_price"])

	require.Eventually(t, func() bool {
		return len(cm.GetConnectionsForUser("alice")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, cm.NotifyUser("alice", map[string]string{"type": "outbid"}))
	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "outbid", msg["type"])

	conn.Close()
	assert.Eventually(t, func() bool {
		return len(cm.GetConnectionsForAuction("a1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamHandler_Rejections(t *testing.T) {
	srv, _ := newStreamServer(t, domain.AuctionSettled)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"missing user", "/ws/auction/a1", http.StatusBadRequest},
		{"unknown auction", "/ws/auction/nope?user_id=alice", http.StatusNotFound},
		{"finished auction", "/ws/auction/a1?user_id=alice", http.StatusGone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tt.path), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
