package websocket

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamHandler upgrades watchers of an auction to a read-only websocket
// feed. Bids are submitted over HTTP, never over the socket.
type StreamHandler struct {
	store       domain.AuctionStore
	connManager domain.ConnectionManager
	upgrader    websocket.Upgrader
	log         logger.Logger
}

func NewStreamHandler(store domain.AuctionStore, connManager domain.ConnectionManager, log logger.Logger) *StreamHandler {
	return &StreamHandler{
		store:       store,
		connManager: connManager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *StreamHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	snap, err := h.store.LoadAuction(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to load auction", "auction_id", auctionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if snap.Auction.Status.Terminal() {
		http.Error(w, "auction is "+snap.Auction.Status.String(), http.StatusGone)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewConnection(conn, userID, auctionID)
	if err := h.connManager.RegisterConnection(userID, auctionID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		wsConn.Close()
		return
	}

	if err := wsConn.Send(map[string]interface{}{
		"type":          "snapshot",
		"auction_id":    auctionID,
		"status":        snap.Auction.Status,
		"current_price": snap.Auction.CurrentPrice.StringFixed(2),
		"end_time":      snap.Auction.EndTime,
	}); err != nil {
		h.log.Debug("Failed to send snapshot", "user_id", userID, "error", err)
	}

	go h.readLoop(wsConn)
	go wsConn.pingLoop()
}

// readLoop only services control frames; it exits when the peer goes away.
func (h *StreamHandler) readLoop(conn *Connection) {
	defer func() {
		h.connManager.UnregisterConnection(conn.UserID(), conn.AuctionID(), conn)
		conn.Close()
	}()

	conn.conn.SetReadLimit(512)
	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Stream closed", "user_id", conn.UserID(), "auction_id", conn.AuctionID(), "error", err)
			}
			return
		}
	}
}

// Connection serialises writes; gorilla connections allow one writer at a time.
type Connection struct {
	conn      *websocket.Conn
	userID    string
	auctionID string

	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func NewConnection(conn *websocket.Conn, userID, auctionID string) *Connection {
	return &Connection{
		conn:      conn,
		userID:    userID,
		auctionID: auctionID,
		closed:    make(chan struct{}),
	}
}

func (c *Connection) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(message)
}

func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) UserID() string {
	return c.userID
}

func (c *Connection) AuctionID() string {
	return c.auctionID
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
