package websocket

import (
	"sync"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
)

// ConnectionManager indexes live stream connections by auction and by user.
// A user may watch several auctions; one connection per (auction, user).
type ConnectionManager struct {
	connections map[string]map[string]domain.WebSocketConnection // auctionID -> userID -> connection
	userConns   map[string][]domain.WebSocketConnection          // userID -> connections
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[string]domain.WebSocketConnection),
		userConns:   make(map[string][]domain.WebSocketConnection),
		log:         log,
	}
}

// RegisterConnection replaces (and closes) any earlier connection the user
// had open on the same auction.
func (cm *ConnectionManager) RegisterConnection(userID, auctionID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.connections[auctionID] == nil {
		cm.connections[auctionID] = make(map[string]domain.WebSocketConnection)
	}
	if old, ok := cm.connections[auctionID][userID]; ok && old != conn {
		cm.removeUserConn(userID, old)
		if err := old.Close(); err != nil {
			cm.log.Debug("Failed to close replaced connection", "user_id", userID, "auction_id", auctionID, "error", err)
		}
	}
	cm.connections[auctionID][userID] = conn
	cm.userConns[userID] = append(cm.userConns[userID], conn)

	cm.log.Info("Connection registered", "user_id", userID, "auction_id", auctionID)
	return nil
}

// UnregisterConnection removes conn only if it is still the registered
// connection; a stale connection closing after a reconnect is a no-op.
func (cm *ConnectionManager) UnregisterConnection(userID, auctionID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if auctionConns, exists := cm.connections[auctionID]; exists && auctionConns[userID] == conn {
		delete(auctionConns, userID)
		if len(auctionConns) == 0 {
			delete(cm.connections, auctionID)
		}
	}
	cm.removeUserConn(userID, conn)

	cm.log.Info("Connection unregistered", "user_id", userID, "auction_id", auctionID)
	return nil
}

// CloseAndUnregisterConnections drops every watcher of a finished auction.
func (cm *ConnectionManager) CloseAndUnregisterConnections(auctionID string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for userID, conn := range cm.connections[auctionID] {
		if err := conn.Close(); err != nil {
			cm.log.Error("Failed to close connection", "user_id", userID, "auction_id", auctionID, "error", err)
		}
		cm.removeUserConn(userID, conn)
	}
	delete(cm.connections, auctionID)

	cm.log.Info("Connections closed for auction", "auction_id", auctionID)
	return nil
}

// removeUserConn expects cm.mutex to be held.
func (cm *ConnectionManager) removeUserConn(userID string, conn domain.WebSocketConnection) {
	userConnections, exists := cm.userConns[userID]
	if !exists {
		return
	}
	var kept []domain.WebSocketConnection
	for _, c := range userConnections {
		if c != conn {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(cm.userConns, userID)
	} else {
		cm.userConns[userID] = kept
	}
}

func (cm *ConnectionManager) GetConnectionsForAuction(auctionID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	connections := make([]domain.WebSocketConnection, 0, len(cm.connections[auctionID]))
	for _, conn := range cm.connections[auctionID] {
		connections = append(connections, conn)
	}
	return connections
}

func (cm *ConnectionManager) GetConnectionsForUser(userID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return append([]domain.WebSocketConnection(nil), cm.userConns[userID]...)
}

// BroadcastToAuction sends message to every watcher. Individual send
// failures are logged and skipped.
func (cm *ConnectionManager) BroadcastToAuction(auctionID string, message interface{}) error {
	connections := cm.GetConnectionsForAuction(auctionID)
	cm.log.Debug("Broadcasting to auction", "auction_id", auctionID, "connections", len(connections))

	for _, conn := range connections {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", conn.UserID(), "auction_id", auctionID, "error", err)
		}
	}
	return nil
}

func (cm *ConnectionManager) NotifyUser(userID string, message interface{}) error {
	for _, conn := range cm.GetConnectionsForUser(userID) {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", userID, "error", err)
		}
	}
	return nil
}
