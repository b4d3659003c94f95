package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Frame is the envelope every observer receives.
type Frame struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sentAt"`
}

// EncodeFrame marshals an event into the wire envelope.
func EncodeFrame(channel, event string, payload any, sentAt time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}

	data, err := json.Marshal(Frame{
		Channel: channel,
		Event:   event,
		Payload: raw,
		SentAt:  sentAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", event, err)
	}
	return data, nil
}

// Observer is one live connection. Send must not block; it reports false
// when the frame was dropped.
type Observer interface {
	Send(frame []byte) bool
}

// Hub maps channels to the observers subscribed to them. It is owned by the
// transport layer; the coordinator only sees its Publish method.
type Hub struct {
	mu          sync.RWMutex
	channels    map[string]map[Observer]struct{}
	memberships map[Observer]map[string]struct{}
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	initMetrics()

	return &Hub{
		channels:    make(map[string]map[Observer]struct{}),
		memberships: make(map[Observer]map[string]struct{}),
		logger:      logger.Named("hub"),
	}
}

// Subscribe adds the observer to the channel. Subscribing twice is a no-op.
func (h *Hub) Subscribe(channel string, o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.channels[channel]
	if members == nil {
		members = make(map[Observer]struct{})
		h.channels[channel] = members
	}
	members[o] = struct{}{}

	joined := h.memberships[o]
	if joined == nil {
		joined = make(map[string]struct{})
		h.memberships[o] = joined
		observersGauge.Inc()
	}
	joined[channel] = struct{}{}
}

// Unsubscribe removes the observer from one channel.
func (h *Hub) Unsubscribe(channel string, o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(channel, o)

	if joined, ok := h.memberships[o]; ok && len(joined) == 0 {
		delete(h.memberships, o)
		observersGauge.Dec()
	}
}

// Disconnect removes the observer from every channel it joined.
func (h *Hub) Disconnect(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.memberships[o]
	if !ok {
		return
	}
	for channel := range joined {
		h.removeLocked(channel, o)
	}
	delete(h.memberships, o)
	observersGauge.Dec()
}

func (h *Hub) removeLocked(channel string, o Observer) {
	if members, ok := h.channels[channel]; ok {
		delete(members, o)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	if joined, ok := h.memberships[o]; ok {
		delete(joined, channel)
	}
}

// Publish encodes the event and delivers it to the channel's local observers.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) error {
	frame, err := EncodeFrame(channel, event, payload, time.Now())
	if err != nil {
		return err
	}

	publishedTotal.WithLabelValues(namespaceOf(channel)).Inc()
	h.Deliver(channel, frame)
	return nil
}

// Deliver hands an encoded frame to every observer of the channel and returns
// how many accepted it. Observers with a full buffer miss the frame.
func (h *Hub) Deliver(channel string, frame []byte) int {
	h.mu.RLock()
	members := make([]Observer, 0, len(h.channels[channel]))
	for o := range h.channels[channel] {
		members = append(members, o)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, o := range members {
		if o.Send(frame) {
			delivered++
			deliveriesTotal.WithLabelValues("delivered").Inc()
			continue
		}
		deliveriesTotal.WithLabelValues("dropped").Inc()
		h.logger.Warn("observer buffer full, frame dropped", zap.String("channel", channel))
	}
	return delivered
}

// ObserverCount returns the number of observers subscribed to the channel.
func (h *Hub) ObserverCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Channels returns the channels the observer currently belongs to.
func (h *Hub) Channels(o Observer) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.memberships[o]))
	for channel := range h.memberships[o] {
		out = append(out, channel)
	}
	return out
}

func namespaceOf(channel string) string {
	if i := strings.IndexByte(channel, ':'); i > 0 {
		return channel[:i]
	}
	return "unknown"
}
