// Package hub fans annotation change events out to WebSocket subscribers,
// grouped by conversation.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/annotator/internal/metrics"
	"github.com/xiaot623/annotator/internal/protocol"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID             string
	ConversationID string
	Conn           *websocket.Conn
	Send           chan []byte
	hub            *Hub
	mu             sync.Mutex
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Topics maps conversation_id to set of connection IDs
	topics map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection

	// Broadcast channel for sending to one conversation's subscribers
	broadcast chan *TopicMessage

	// done is closed when Run returns; sends after that are dropped.
	done chan struct{}

	mu  sync.RWMutex
	log *slog.Logger
}

// TopicMessage is used to broadcast a message to a conversation.
type TopicMessage struct {
	ConversationID string
	Data           []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		topics:      make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *TopicMessage, 256),
		done:        make(chan struct{}),
		log:         slog.Default().With("component", "hub"),
	}
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.ConversationID != "" {
				h.bind(conn, conn.ConversationID)
			}
			h.mu.Unlock()
			metrics.WebsocketConnections.Inc()
			h.log.Debug("connection registered", "connection_id", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				h.unbind(conn)
				close(conn.Send)
				metrics.WebsocketConnections.Dec()
			}
			h.mu.Unlock()
			h.log.Debug("connection unregistered", "connection_id", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.topics[msg.ConversationID] {
				conn, exists := h.connections[connID]
				if !exists {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					// Buffer full, close the connection
					h.log.Warn("connection buffer full, closing", "connection_id", connID)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a new connection; it still has to be registered.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
		hub:  h,
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// bind and unbind are called with mu held.
func (h *Hub) bind(conn *Connection, conversationID string) {
	conn.ConversationID = conversationID
	if h.topics[conversationID] == nil {
		h.topics[conversationID] = make(map[string]bool)
	}
	h.topics[conversationID][conn.ID] = true
}

func (h *Hub) unbind(conn *Connection) {
	if conn.ConversationID == "" || h.topics[conn.ConversationID] == nil {
		return
	}
	delete(h.topics[conn.ConversationID], conn.ID)
	if len(h.topics[conn.ConversationID]) == 0 {
		delete(h.topics, conn.ConversationID)
	}
	conn.ConversationID = ""
}

// Subscribe binds a connection to a conversation, replacing any earlier
// subscription.
func (h *Hub) Subscribe(conn *Connection, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbind(conn)
	h.bind(conn, conversationID)
}

// Unsubscribe drops the connection's subscription.
func (h *Hub) Unsubscribe(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbind(conn)
}

// Broadcast sends data to every subscriber of a conversation. It never
// blocks once the hub has stopped.
func (h *Hub) Broadcast(conversationID string, data []byte) {
	select {
	case h.broadcast <- &TopicMessage{ConversationID: conversationID, Data: data}:
	case <-h.done:
		h.log.Debug("hub stopped, dropping broadcast", "conversation_id", conversationID)
	}
}

// BroadcastJSON sends a JSON message to every subscriber of a conversation.
func (h *Hub) BroadcastJSON(conversationID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(conversationID, data)
	return nil
}

// AnnotationsChanged publishes an annotations_changed event.
func (h *Hub) AnnotationsChanged(conversationID, annotationID string) {
	if err := h.BroadcastJSON(conversationID, protocol.NewAnnotationsChanged(conversationID, annotationID)); err != nil {
		h.log.Error("failed to publish annotations_changed", "conversation_id", conversationID, "error", err)
	}
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// SubscriberCount returns the number of connections watching a conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[conversationID])
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
