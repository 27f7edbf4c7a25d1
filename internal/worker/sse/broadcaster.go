// Package sse provides Server-Sent Events broadcasting for recall.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// writeTimeout bounds a single client write so one stale connection
// cannot stall a broadcast.
const writeTimeout = 2 * time.Second

// client is one connected event-stream consumer.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
	id      int
}

// Broadcaster fans events out to connected SSE clients.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[int]*client
	nextID  int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[int]*client)}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends event to every connected client. Writes that fail or
// exceed the write timeout drop the client.
func (b *Broadcaster) Broadcast(event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range targets {
		select {
		case <-c.done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if !b.write(c, message) {
				b.drop(c.id)
			}
		}(c)
	}
	wg.Wait()
}

// write sends message to a single client, bounded by writeTimeout.
func (b *Broadcaster) write(c *client, message string) bool {
	result := make(chan bool, 1)
	go func() {
		if _, err := c.w.Write([]byte(message)); err != nil {
			result <- false
			return
		}
		c.flusher.Flush()
		result <- true
	}()

	select {
	case ok := <-result:
		return ok
	case <-time.After(writeTimeout):
		log.Warn().Int("client_id", c.id).Msg("SSE write timed out, dropping client")
		return false
	case <-c.done:
		return true
	}
}

// add registers a new client connection.
func (b *Broadcaster) add(w http.ResponseWriter, flusher http.Flusher) *client {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	c := &client{
		id:      b.nextID,
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
	b.clients[c.id] = c
	log.Debug().Int("client_id", c.id).Int("total", len(b.clients)).Msg("SSE client connected")
	return c
}

// drop removes a client and signals its handler to return.
func (b *Broadcaster) drop(id int) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	total := len(b.clients)
	b.mu.Unlock()

	if !ok {
		return
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	log.Debug().Int("client_id", id).Int("total", total).Msg("SSE client disconnected")
}

// ServeHTTP handles an SSE connection, blocking until the client
// disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := b.add(w, flusher)
	defer b.drop(c.id)

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	select {
	case <-r.Context().Done():
	case <-c.done:
	}
}
