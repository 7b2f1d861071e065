// Package live pushes newly ingested alerts to dashboard subscribers over
// websockets.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webperf/vitals-tools/formats/vitals"
	"github.com/webperf/vitals-tools/logging"
)

const (
	subscriberChannelSize = 100
	writeTimeout          = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard is served from a different origin than vitalsd
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks websocket subscribers and broadcasts alerts to them. Slow
// subscribers have messages dropped rather than blocking ingestion.
type Hub struct {
	mutex       sync.Mutex
	subscribers map[chan []byte]bool
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan []byte]bool)}
}

func (h *Hub) subscribe() chan []byte {
	c := make(chan []byte, subscriberChannelSize)
	h.mutex.Lock()
	h.subscribers[c] = true
	h.mutex.Unlock()
	return c
}

func (h *Hub) unsubscribe(c chan []byte) {
	h.mutex.Lock()
	delete(h.subscribers, c)
	h.mutex.Unlock()
}

// Broadcast sends the alert to all current subscribers. It never blocks:
// subscribers with a full channel miss the alert.
func (h *Hub) Broadcast(alert vitals.Alert) {
	data, err := json.Marshal(alert)
	if err != nil {
		logging.Error("could not marshal alert for broadcast: %s", err)
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for c := range h.subscribers {
		select {
		case c <- data:
		default:
			logging.Warn("dropped alert broadcast: subscriber channel blocked")
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subscribers)
}

// Serve upgrades the connection and streams alerts until the subscriber
// goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("could not upgrade websocket connection: %s", err)
		return
	}
	c := h.subscribe()
	defer h.unsubscribe(c)
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		// the read loop only exists to notice the peer going away
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data := <-c:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
