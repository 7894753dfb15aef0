package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/trackparse/api/internal/model"
)

// Message types pushed to subscribers
const (
	MessageTypeProgress = "progress"
	MessageTypeComplete = "complete"
	MessageTypeError    = "error"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

type ProgressMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Status    model.JobStatus `json:"status"`
	Step      int             `json:"step"`
	StepLabel string          `json:"stepLabel"`
}

type CompleteMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Status    model.JobStatus `json:"status"`
	Result    interface{}     `json:"result,omitempty"`
	Error     *model.JobError `json:"error,omitempty"`
}

type controlMessage struct {
	Type string `json:"type"`
}

// Client represents a WebSocket subscriber for one job
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections grouped by job id and pushes
// progress updates from workers to subscribers. It implements
// worker.Notifier.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	mu         sync.RWMutex
	log        zerolog.Logger
}

type broadcastMessage struct {
	JobID   string
	Message []byte
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		log:        log.With().Str("component", "ws").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("request_id", client.JobID).Msg("ws client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.JobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// JobProgress pushes a step transition to all subscribers of the job.
func (h *Hub) JobProgress(jobID string, step int, label string, status model.JobStatus) {
	h.send(jobID, ProgressMessage{
		Type:      MessageTypeProgress,
		RequestID: jobID,
		Status:    status,
		Step:      step,
		StepLabel: label,
	})
}

// JobDone pushes the terminal outcome to all subscribers of the job.
func (h *Hub) JobDone(job model.Job) {
	msgType := MessageTypeComplete
	if job.Status != model.JobStatusSucceeded {
		msgType = MessageTypeError
	}
	h.send(job.ID, CompleteMessage{
		Type:      msgType,
		RequestID: job.ID,
		Status:    job.Status,
		Result:    job.Result,
		Error:     job.Error,
	})
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal ws message")
		return
	}
	select {
	case h.broadcast <- &broadcastMessage{JobID: jobID, Message: data}:
	default:
		h.log.Warn().Str("request_id", jobID).Msg("ws broadcast buffer full, update dropped")
	}
}

// HandleConnection serves one subscriber until it disconnects.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.register <- client
	defer func() { h.unregister <- client }()

	// Writer goroutine with keep-alive pings
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}
			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("ws read error")
			}
			break
		}

		var msg controlMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			data, _ := json.Marshal(controlMessage{Type: MessageTypePong})
			client.Send <- data
		}
	}
}
