package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket constants
const (
	MaxWebSocketClients   = 100
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = 30 * time.Second
)

// ScanProgress is the per-symbol progress of a running screen, pushed to
// WebSocket subscribers and served from the polled progress endpoint.
type ScanProgress struct {
	Status        string `json:"status"` // idle, running, completed
	Total         int    `json:"total"`
	Processed     int    `json:"processed"`
	Matches       int    `json:"matches"`
	CurrentSymbol string `json:"current_symbol"`
	StartedAt     string `json:"started_at,omitempty"`
	ElapsedTime   string `json:"elapsed_time,omitempty"`
}

// WebSocketMessage is the envelope broadcast to subscribers.
type WebSocketMessage struct {
	Type string       `json:"type"`
	Data ScanProgress `json:"data"`
	Time string       `json:"time"`
}

// Client represents a connected WebSocket subscriber.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// ScanProgressService broadcasts screening progress over WebSocket and
// keeps the latest snapshot for polling clients. Only counters are
// published while a run is in flight; matches become visible through the
// screener endpoints once the run completes.
type ScanProgressService struct {
	clients    map[*Client]bool
	broadcast  chan WebSocketMessage
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader

	progress   ScanProgress
	progressMu sync.RWMutex
	startedAt  time.Time
}

// Global scan progress service
var GlobalScanProgress *ScanProgressService

// InitScanProgressService initializes the progress hub and starts it.
func InitScanProgressService() error {
	GlobalScanProgress = &ScanProgressService{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan WebSocketMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		progress: ScanProgress{Status: "idle"},
	}

	go GlobalScanProgress.run()

	log.Println("Scan Progress Service initialized")
	return nil
}

// Shutdown closes the hub and all client connections.
func (s *ScanProgressService) Shutdown() {
	close(s.shutdown)

	s.mu.Lock()
	for client := range s.clients {
		close(client.send)
		client.conn.Close()
	}
	s.clients = make(map[*Client]bool)
	s.mu.Unlock()

	log.Println("Scan Progress Service shutdown complete")
}

// ScanProgress implements screener.ProgressSink.
func (s *ScanProgressService) ScanProgress(processed, total, matches int, symbol string) {
	s.progressMu.Lock()
	if processed == 1 {
		s.startedAt = time.Now()
	}
	status := "running"
	if processed >= total {
		status = "completed"
	}
	s.progress = ScanProgress{
		Status:        status,
		Total:         total,
		Processed:     processed,
		Matches:       matches,
		CurrentSymbol: symbol,
		StartedAt:     s.startedAt.Format(time.RFC3339),
		ElapsedTime:   time.Since(s.startedAt).Round(time.Second).String(),
	}
	snapshot := s.progress
	s.progressMu.Unlock()

	s.Publish(snapshot)
}

// Reset marks the service idle, e.g. after a failed run.
func (s *ScanProgressService) Reset() {
	s.progressMu.Lock()
	s.progress = ScanProgress{Status: "idle"}
	s.progressMu.Unlock()
}

// GetProgress returns the latest progress snapshot.
func (s *ScanProgressService) GetProgress() ScanProgress {
	s.progressMu.RLock()
	defer s.progressMu.RUnlock()
	return s.progress
}

// Publish broadcasts a progress snapshot to all subscribers.
func (s *ScanProgressService) Publish(p ScanProgress) {
	msg := WebSocketMessage{
		Type: "scan_progress",
		Data: p,
		Time: time.Now().Format(time.RFC3339),
	}
	select {
	case s.broadcast <- msg:
	default:
		// Broadcast buffer full; progress is advisory, drop the update.
	}
}

// run is the WebSocket hub loop.
func (s *ScanProgressService) run() {
	for {
		select {
		case <-s.shutdown:
			return

		case client := <-s.register:
			s.mu.Lock()
			if len(s.clients) >= MaxWebSocketClients {
				s.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("WebSocket client rejected: max clients reached (%d)", MaxWebSocketClients)
				continue
			}
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			log.Printf("WebSocket client connected. Total clients: %d", clientCount)

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			clientCount := len(s.clients)
			s.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total clients: %d", clientCount)

		case message := <-s.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("Error marshaling broadcast message: %v", err)
				continue
			}

			s.mu.Lock()
			deadClients := make([]*Client, 0)
			for client := range s.clients {
				select {
				case client.send <- data:
				default:
					deadClients = append(deadClients, client)
				}
			}
			for _, client := range deadClients {
				delete(s.clients, client)
				close(client.send)
			}
			s.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request to a progress subscription.
func (s *ScanProgressService) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	atCapacity := len(s.clients) >= MaxWebSocketClients
	s.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	s.register <- client

	go client.writePump()
	go client.readPump(s)
}

// writePump writes queued messages and keepalive pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and closes are processed.
func (c *Client) readPump(s *ScanProgressService) {
	defer func() {
		s.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
