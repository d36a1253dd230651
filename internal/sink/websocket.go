// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/rover_position/internal/data"
	"github.com/relabs-tech/rover_position/internal/filter"
)

const (
	clientBuffer = 64
	writeTimeout = time.Second
)

// Message is what monitor clients receive.
type Message struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // monitor runs on the local network
	},
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to websocket clients and remembers the latest
// payload per topic. Broadcast never blocks: a client that falls behind
// loses messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	latest  map[string]json.RawMessage
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		latest:  make(map[string]json.RawMessage),
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the last payload published on topic.
func (h *Hub) Latest(topic string) (json.RawMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.latest[topic]
	return p, ok
}

// Broadcast queues payload for every client.
func (h *Hub) Broadcast(topic string, payload json.RawMessage) {
	msg, err := json.Marshal(Message{Topic: topic, Data: payload})
	if err != nil {
		log.Printf("monitor: marshal error: %v", err)
		return
	}
	h.mu.Lock()
	h.latest[topic] = payload
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// slow client
		}
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams messages until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor: websocket upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Printf("monitor: client connected from %s", r.RemoteAddr)

	go h.writeLoop(c)

	// Clients do not send anything; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
	log.Printf("monitor: client %s disconnected", r.RemoteAddr)
}

func (h *Hub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("monitor: write error: %v", err)
			return
		}
	}
}

// LatestHandler serves the last payload of topic as JSON.
func (h *Hub) LatestHandler(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := h.Latest(topic)
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(payload); err != nil {
			log.Printf("monitor: write error: %v", err)
		}
	}
}

// WebSocketBroadcaster sends each sample to a Hub under a topic.
type WebSocketBroadcaster[T any] struct {
	filter.Base[T]
	hub   *Hub
	topic string
}

// NewWebSocketBroadcaster creates a node that feeds hub.
func NewWebSocketBroadcaster[T any](name string, hub *Hub, topic string) *WebSocketBroadcaster[T] {
	b := &WebSocketBroadcaster[T]{hub: hub, topic: topic}
	b.Init(b, name)
	return b
}

func (b *WebSocketBroadcaster[T]) Receive(d data.Data[T]) error {
	if err := b.CheckOpen(); err != nil {
		return err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("json marshal (%s): %w", b.topic, err)
	}
	b.hub.Broadcast(b.topic, payload)
	return b.Send(d)
}
