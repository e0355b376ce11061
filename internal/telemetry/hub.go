package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/config"
)

// Event types published on the hub.
const (
	EventReady     = "ready"
	EventSnapshot  = "snapshot"
	EventFault     = "fault"
	EventSetPoint  = "setPoint"
	EventOutput    = "output"
	EventState     = "state"
	EventHeartbeat = "heartbeat"
)

// Event represents a telemetry event with SSE formatting.
type Event struct {
	ID         int64                  `json:"id,omitempty"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	Instrument string                 `json:"instrument,omitempty"`
}

// Client represents an SSE client connection.
type Client struct {
	ID         string
	Writer     http.ResponseWriter
	Context    context.Context
	Cancel     context.CancelFunc
	LastID     int64
	Instrument string
	Events     chan Event
	mu         sync.Mutex // Protect Writer access
}

// ReadyFunc supplies the state embedded in the initial ready event.
type ReadyFunc func() map[string]interface{}

// Hub manages SSE telemetry distribution with per-instrument buffering.
//
// h.mu protects clients, ids, buffers and the heartbeat fields. EventBuffer
// has its own mutex and buffers are never removed once created, so a buffer
// reference may be used after h.mu is released.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	ids     map[string]*int64
	buffers map[string]*EventBuffer
	ready   ReadyFunc

	config *config.TimingConfig

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// EventBuffer maintains a circular buffer of events for one instrument.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewHub creates a new telemetry hub.
func NewHub(timingConfig *config.TimingConfig) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		ids:     make(map[string]*int64),
		buffers: make(map[string]*EventBuffer),
		config:  timingConfig,
		done:    make(chan struct{}),
	}
}

// SetReadyFunc installs the provider for the ready event payload.
func (h *Hub) SetReadyFunc(fn ReadyFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = fn
}

// Subscribe streams events to w until ctx ends. An "instrument" query
// parameter restricts the stream to one instrument; Last-Event-ID replays
// buffered events for that instrument.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	client := &Client{
		ID:         uuid.NewString(),
		Writer:     w,
		Context:    clientCtx,
		Cancel:     cancel,
		LastID:     lastEventID,
		Instrument: r.URL.Query().Get("instrument"),
		Events:     make(chan Event, h.config.EventBufferSize),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()
	defer h.unregisterClient(client.ID)

	if err := h.sendReadyEvent(client); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastEventID > 0 && client.Instrument != "" {
		if err := h.replayEvents(client, lastEventID); err != nil {
			return fmt.Errorf("failed to replay events: %w", err)
		}
	}

	h.handleClient(client)
	return nil
}

// Publish assigns an ID, buffers the event and delivers it to matching
// clients. Slow clients miss events rather than stall the publisher.
func (h *Hub) Publish(event Event) {
	select {
	case <-h.done:
		return
	default:
	}

	if event.ID == 0 {
		event.ID = h.nextEventID(event.Instrument)
	}
	if event.Instrument != "" {
		h.bufferEvent(event)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.Instrument == "" || event.Instrument == "" || client.Instrument == event.Instrument {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case <-client.Context.Done():
			continue
		case <-h.done:
			return
		case client.Events <- event:
		case <-time.After(100 * time.Millisecond):
			// Drop event if client is slow to prevent blocking
		}
	}
}

// PublishSnapshot publishes a snapshot event.
func (h *Hub) PublishSnapshot(s Snapshot) {
	data := map[string]interface{}{
		"seq":     s.Seq,
		"takenAt": s.TakenAt.Format(time.RFC3339Nano),
	}
	if s.PowerSupply != nil {
		data["powerSupply"] = s.PowerSupply
	}
	if s.SignalGenerator != nil {
		data["signalGenerator"] = s.SignalGenerator
	}
	h.Publish(Event{Type: EventSnapshot, Instrument: s.Instrument, Data: data})
}

// PublishFault publishes a fault event for an instrument.
func (h *Hub) PublishFault(instrument, operation string, err error) {
	h.Publish(Event{
		Type:       EventFault,
		Instrument: instrument,
		Data: map[string]interface{}{
			"operation": operation,
			"code":      adapter.CodeOf(err),
			"message":   err.Error(),
		},
	})
}

func (h *Hub) sendReadyEvent(client *Client) error {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	data := map[string]interface{}{}
	if ready != nil {
		data = ready()
	}
	return h.sendEventToClient(client, Event{Type: EventReady, Data: data})
}

func (h *Hub) replayEvents(client *Client, lastEventID int64) error {
	h.mu.RLock()
	buffer, exists := h.buffers[client.Instrument]
	h.mu.RUnlock()

	if !exists {
		return nil
	}

	for _, event := range buffer.GetEventsAfter(lastEventID) {
		if err := h.sendEventToClient(client, event); err != nil {
			return err
		}
	}
	return nil
}

// sendEventToClient writes one event in SSE framing and flushes.
func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	payload := event.Data
	if event.Instrument != "" {
		payload = make(map[string]interface{}, len(event.Data)+1)
		for k, v := range event.Data {
			payload[k] = v
		}
		payload["instrument"] = event.Instrument
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) handleClient(client *Client) {
	for {
		select {
		case <-client.Context.Done():
			return
		case <-h.done:
			return
		case event := <-client.Events:
			if err := h.sendEventToClient(client, event); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[clientID]
	if !exists {
		return
	}
	client.Cancel()
	delete(h.clients, clientID)

	if len(h.clients) == 0 && h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// ClientCount returns the number of connected SSE clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// nextEventID returns the next monotonic event ID for an instrument.
func (h *Hub) nextEventID(instrument string) int64 {
	if instrument == "" {
		instrument = "global"
	}

	h.mu.RLock()
	counter, exists := h.ids[instrument]
	h.mu.RUnlock()

	if !exists {
		h.mu.Lock()
		counter, exists = h.ids[instrument]
		if !exists {
			counter = new(int64)
			h.ids[instrument] = counter
		}
		h.mu.Unlock()
	}
	return atomic.AddInt64(counter, 1)
}

func (h *Hub) bufferEvent(event Event) {
	h.mu.Lock()
	buffer, exists := h.buffers[event.Instrument]
	if !exists {
		buffer = NewEventBuffer(h.config.EventBufferSize)
		h.buffers[event.Instrument] = buffer
	}
	h.mu.Unlock()

	buffer.AddEvent(event)
}

// startHeartbeat starts the heartbeat ticker. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	interval := h.config.HeartbeatInterval + time.Duration(float64(h.config.HeartbeatJitter)*0.5)

	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	h.heartbeatTicker = ticker
	h.stopHeartbeat = stop

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.Publish(Event{
					Type: EventHeartbeat,
					Data: map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop disconnects all clients and stops the heartbeat. Idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, client := range h.clients {
			client.Cancel()
		}
		if h.heartbeatTicker != nil {
			h.heartbeatTicker.Stop()
			h.heartbeatTicker = nil
		}
		h.mu.Unlock()

		waited := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(5 * time.Second):
		}
	})
}

// NewEventBuffer creates a new event buffer with the specified capacity.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{events: make([]Event, 0, capacity), capacity: capacity}
}

// AddEvent appends an event, evicting the oldest when full.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

// GetEventsAfter returns events after the specified ID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

// GetSize returns the current buffer size.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
