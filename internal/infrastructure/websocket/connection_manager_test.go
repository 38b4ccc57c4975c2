package websocket

import (
	"errors"
	"sync"
	"testing"

	"auction-engine/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	userID    string
	auctionID string
	fail      bool

	mu     sync.Mutex
	sent   []interface{}
	closed bool
}

func (f *fakeConn) Send(message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) UserID() string    { return f.userID }
func (f *fakeConn) AuctionID() string { return f.auctionID }

func TestConnectionManager_RoutesByAuctionAndUser(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	aliceA1 := &fakeConn{userID: "alice", auctionID: "a1"}
	aliceA2 := &fakeConn{userID: "alice", auctionID: "a2"}
	bobA1 := &fakeConn{userID: "bob", auctionID: "a1", fail: true}

	for _, c := range []*fakeConn{aliceA1, aliceA2, bobA1} {
		require.NoError(t, cm.RegisterConnection(c.userID, c.auctionID, c))
	}

	require.NoError(t, cm.BroadcastToAuction("a1", "hello"))
	assert.Equal(t, []interface{}{"hello"}, aliceA1.sent)
	assert.Empty(t, aliceA2.sent)

	require.NoError(t, cm.NotifyUser("alice", "psst"))
	assert.Len(t, aliceA1.sent, 2)
	assert.Equal(t, []interface{}{"psst"}, aliceA2.sent)

	require.NoError(t, cm.UnregisterConnection("alice", "a1", aliceA1))
	assert.Len(t, cm.GetConnectionsForUser("alice"), 1)
	assert.Len(t, cm.GetConnectionsForAuction("a1"), 1)
}

func TestConnectionManager_ReplacesDuplicateConnection(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	first := &fakeConn{userID: "alice", auctionID: "a1"}
	second := &fakeConn{userID: "alice", auctionID: "a1"}

	require.NoError(t, cm.RegisterConnection("alice", "a1", first))
	require.NoError(t, cm.RegisterConnection("alice", "a1", second))

	assert.True(t, first.closed)
	assert.Len(t, cm.GetConnectionsForUser("alice"), 1)
	assert.Len(t, cm.GetConnectionsForAuction("a1"), 1)
}

func TestConnectionManager_StaleUnregisterKeepsReplacement(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	first := &fakeConn{userID: "alice", auctionID: "a1"}
	second := &fakeConn{userID: "alice", auctionID: "a1"}

	require.NoError(t, cm.RegisterConnection("alice", "a1", first))
	require.NoError(t, cm.RegisterConnection("alice", "a1", second))

	// The replaced connection's read loop exits after it is closed.
	require.NoError(t, cm.UnregisterConnection("alice", "a1", first))

	require.Len(t, cm.GetConnectionsForAuction("a1"), 1)
	require.Len(t, cm.GetConnectionsForUser("alice"), 1)

	require.NoError(t, cm.BroadcastToAuction("a1", "bid_update"))
	require.NoError(t, cm.NotifyUser("alice", "outbid"))
	assert.Equal(t, []interface{}{"bid_update", "outbid"}, second.sent)
	assert.Empty(t, first.sent)

	require.NoError(t, cm.UnregisterConnection("alice", "a1", second))
	assert.Empty(t, cm.GetConnectionsForAuction("a1"))
	assert.Empty(t, cm.GetConnectionsForUser("alice"))
}

func TestConnectionManager_CloseAuction(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	a := &fakeConn{userID: "alice", auctionID: "a1"}
	b := &fakeConn{userID: "bob", auctionID: "a1"}
	other := &fakeConn{userID: "bob", auctionID: "a2"}
	for _, c := range []*fakeConn{a, b, other} {
		require.NoError(t, cm.RegisterConnection(c.userID, c.auctionID, c))
	}

	require.NoError(t, cm.CloseAndUnregisterConnections("a1"))
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.False(t, other.closed)
	assert.Empty(t, cm.GetConnectionsForAuction("a1"))
	assert.Empty(t, cm.GetConnectionsForUser("alice"))
	assert.Len(t, cm.GetConnectionsForUser("bob"), 1)
}
