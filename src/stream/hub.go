// Package stream pushes finished sync runs to connected WebSocket clients.
package stream

import (
	"encoding/json"
	"sync"

	"portfoliodoctor/src/model"

	logger "github.com/sirupsen/logrus"
)

const sendBufferSize = 16

// Message is the envelope written to clients.
type Message struct {
	Type string         `json:"type"`
	Run  *model.SyncRun `json:"run"`
}

// Subscription receives the encoded messages of one user until closed.
type Subscription struct {
	C <-chan []byte

	userID string
	send   chan []byte
	hub    *Hub
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub fans sync runs out to the subscriptions of their user.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(userID string) *Subscription {
	send := make(chan []byte, sendBufferSize)
	sub := &Subscription{C: send, userID: userID, send: send, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscription]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.userID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.userID)
	}
	close(sub.send)
}

// Publish never blocks; a subscriber whose buffer is full misses the message.
func (h *Hub) Publish(userID string, run *model.SyncRun) {
	payload, err := json.Marshal(Message{Type: "sync_run", Run: run})
	if err != nil {
		logger.WithError(err).WithField("run_id", run.ID).Error("failed to encode sync run for stream")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[userID] {
		select {
		case sub.send <- payload:
		default:
			logger.WithFields(map[string]interface{}{
				"user_id": userID,
				"run_id":  run.ID,
			}).Warn("stream subscriber is slow, dropping sync run")
		}
	}
}

func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
