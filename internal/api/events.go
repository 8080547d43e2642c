// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vedant-zeus/eye1/pkg/training"
	"k8s.io/klog/v2"
)

// Message types streamed on the training events websocket.
const (
	MessageEpoch = "epoch"
	MessageDone  = "done"
	MessageError = "error"
)

// Message is one JSON message of the training events websocket.
type Message struct {
	Type   string               `json:"type"`
	Event  *training.EpochEvent `json:"event,omitempty"`
	Report *training.Report     `json:"report,omitempty"`
	Error  string               `json:"error,omitempty"`
}

const (
	subscriberBuffer = 64
	writeTimeout     = 10 * time.Second
)

// hub fans out training messages to the websocket subscribers. Slow subscribers lose messages
// instead of blocking training.
type hub struct {
	mu          sync.Mutex
	subscribers map[chan Message]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[chan Message]struct{})}
}

func (h *hub) subscribe() chan Message {
	ch := make(chan Message, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan Message) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

func (h *hub) publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			klog.Warningf("dropping %q message for a slow training events subscriber", msg.Type)
		}
	}
}

// OnEpochEnd implements training.Listener.
func (h *hub) OnEpochEnd(event training.EpochEvent) {
	h.publish(Message{Type: MessageEpoch, Event: &event})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// TrainEvents streams the messages of the running or next training runs until the client
// disconnects.
func (s *Server) TrainEvents(c *gin.Context) {
	// Subscribe before the handshake completes, so no message published after the client is
	// connected is lost.
	ch := s.events.subscribe()
	defer s.events.unsubscribe(ch)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.V(1).Infof("training events: websocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The client isn't expected to send anything: reading only detects the disconnection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				klog.V(1).Infof("training events: write failed: %v", err)
				return
			}
		}
	}
}
