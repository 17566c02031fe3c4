package websocket

import (
	"sync"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/pkg/logger"
)

// ConnectionManager tracks the live sockets of one bidding instance. A user
// holds at most one socket per auction and may watch several auctions.
type ConnectionManager struct {
	mutex     sync.RWMutex
	byAuction map[string]map[string]domain.WebSocketConnection // auctionID -> userID -> connection
	byUser    map[string]map[string]domain.WebSocketConnection // userID -> auctionID -> connection
	log       logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		byAuction: make(map[string]map[string]domain.WebSocketConnection),
		byUser:    make(map[string]map[string]domain.WebSocketConnection),
		log:       log,
	}
}

// RegisterConnection stores conn. A reconnect replaces and closes the previous
// socket of the same user on the same auction.
func (cm *ConnectionManager) RegisterConnection(userID, auctionID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	old, replaced := cm.byAuction[auctionID][userID]
	put(cm.byAuction, auctionID, userID, conn)
	put(cm.byUser, userID, auctionID, conn)
	cm.mutex.Unlock()

	if replaced && old != conn {
		old.Close()
	}
	cm.log.Info("Connection registered", "user_id", userID, "auction_id", auctionID, "replaced", replaced)
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(conn domain.WebSocketConnection) error {
	userID, auctionID := conn.UserID(), conn.AuctionID()

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.byAuction[auctionID][userID] != conn {
		// Already replaced by a newer socket.
		return nil
	}
	remove(cm.byAuction, auctionID, userID)
	remove(cm.byUser, userID, auctionID)

	cm.log.Info("Connection unregistered", "user_id", userID, "auction_id", auctionID)
	return nil
}

// CloseAndUnregisterConnections drops every watcher of an auction that reached
// a terminal outcome.
func (cm *ConnectionManager) CloseAndUnregisterConnections(auctionID string) error {
	cm.mutex.Lock()
	watchers := cm.byAuction[auctionID]
	delete(cm.byAuction, auctionID)
	for userID := range watchers {
		remove(cm.byUser, userID, auctionID)
	}
	cm.mutex.Unlock()

	for userID, conn := range watchers {
		if err := conn.Close(); err != nil {
			cm.log.Error("Failed to close connection", "user_id", userID,
				"auction_id", auctionID, "error", err)
		}
	}
	if len(watchers) > 0 {
		cm.log.Info("Connections closed for auction", "auction_id", auctionID, "count", len(watchers))
	}
	return nil
}

func (cm *ConnectionManager) GetConnectionsForAuction(auctionID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return values(cm.byAuction[auctionID])
}

func (cm *ConnectionManager) GetConnectionsForUser(userID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return values(cm.byUser[userID])
}

func (cm *ConnectionManager) BroadcastToAuction(auctionID string, message interface{}) error {
	connections := cm.GetConnectionsForAuction(auctionID)
	cm.log.Debug("Broadcasting to auction", "auction_id", auctionID, "connections", len(connections))
	cm.sendAll(connections, message)
	return nil
}

func (cm *ConnectionManager) NotifyUser(userID string, message interface{}) error {
	cm.sendAll(cm.GetConnectionsForUser(userID), message)
	return nil
}

// sendAll writes outside the lock; a slow socket must not block registration.
func (cm *ConnectionManager) sendAll(connections []domain.WebSocketConnection, message interface{}) {
	for _, conn := range connections {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", conn.UserID(),
				"auction_id", conn.AuctionID(), "error", err)
		}
	}
}

func put(index map[string]map[string]domain.WebSocketConnection, outer, inner string, conn domain.WebSocketConnection) {
	if index[outer] == nil {
		index[outer] = make(map[string]domain.WebSocketConnection)
	}
	index[outer][inner] = conn
}

func remove(index map[string]map[string]domain.WebSocketConnection, outer, inner string) {
	delete(index[outer], inner)
	if len(index[outer]) == 0 {
		delete(index, outer)
	}
}

func values(conns map[string]domain.WebSocketConnection) []domain.WebSocketConnection {
	out := make([]domain.WebSocketConnection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}
