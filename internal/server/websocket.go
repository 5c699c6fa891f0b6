package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kode4food/agentflow/internal/engine"
	"github.com/kode4food/agentflow/pkg/api"
	"github.com/kode4food/agentflow/pkg/log"
)

type (
	// Client represents a WebSocket client connection for run event
	// streaming. A client receives nothing until it subscribes
	Client struct {
		conn      *websocket.Conn
		consumer  engine.EventConsumer
		sub       *api.ClientSubscription
		getState  StateFunc
		closeOnce sync.Once
	}

	// StateFunc retrieves the current state of a run, used to acknowledge
	// subscriptions to runs that are already in flight
	StateFunc func(api.RunID) (*api.RunState, error)
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 4096
	wsBufferSize       = 1024
	incomingBufferSize = 16

	subscribeType  = "subscribe"
	subscribedType = "subscribed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades an HTTP connection to WebSocket and starts
// streaming the hub's run events based on client subscriptions
func HandleWebSocket(
	hub *engine.EventHub, w http.ResponseWriter, r *http.Request,
	st StateFunc,
) *Client {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return nil
	}

	return &Client{
		conn:     conn,
		consumer: hub.NewConsumer(),
		getState: st,
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	client := HandleWebSocket(
		s.engine.Events(), c.Writer, c.Request, s.engine.GetStatus,
	)
	if client == nil {
		return
	}

	s.registerWebSocket(client)
	go func() {
		defer s.unregisterWebSocket(client)
		client.run()
	}()
}

// Close terminates the client's connection and event consumer
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.consumer.Close()
		_ = c.conn.Close()
	})
}

func (c *Client) run() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			if !c.handleSubscribe(message) {
				return
			}

		case ev, ok := <-c.consumer.Receive():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.sendEventIfMatched(ev) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	defer close(incoming)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		incoming <- message
	}
}

func (c *Client) handleSubscribe(message []byte) bool {
	var req api.SubscribeRequest
	if err := json.Unmarshal(message, &req); err != nil {
		slog.Error("Failed to parse WebSocket message",
			log.Error(err))
		return true
	}

	if req.Type != subscribeType {
		return true
	}

	c.sub = &req.Data
	return c.sendSubscribed()
}

func (c *Client) sendSubscribed() bool {
	msg := api.SubscribedResult{Type: subscribedType}
	if c.getState != nil {
		for _, id := range c.sub.RunIDs {
			st, err := c.getState(id)
			if err != nil {
				continue
			}
			msg.States = append(msg.States, st)
		}
	}
	return c.write(msg, subscribedType)
}

func (c *Client) sendEventIfMatched(ev *api.RunEvent) bool {
	if c.sub == nil || !c.sub.Matches(ev) {
		return true
	}
	return c.write(ev, "event")
}

func (c *Client) write(msg any, kind string) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Error("WebSocket write failed",
			slog.String("context", kind),
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
