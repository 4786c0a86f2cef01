package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/metrics"
)

// subscriptionBuffer bounds how far a slow consumer may lag before
// events are dropped for it.
const subscriptionBuffer = 64

// Subscription is one consumer's attachment to a topic room. Receive from
// C; the channel is closed by Unsubscribe or hub shutdown.
type Subscription struct {
	Topic string
	C     <-chan Event

	ch chan Event
}

// Hub holds the process-local topic rooms. It owns the single subscription
// to the shared Redis channel and re-emits every envelope to the room named
// by its topic. Delivery within one topic preserves publication order;
// subscribers that cannot keep up lose events rather than block the fan-out.
type Hub struct {
	rdb    *redis.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	rooms  map[string]map[*Subscription]struct{}
	closed bool

	pubsub  *redis.PubSub
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewHub creates a hub over an existing Redis client. Call Start before
// subscribing.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		rdb:    rdb,
		logger: log.WithComponent("hub"),
		rooms:  make(map[string]map[*Subscription]struct{}),
		stopCh: make(chan struct{}),
	}
}

// Start attaches to the shared channel and begins fan-out. It fails fast
// if the subscription cannot be established.
func (h *Hub) Start(ctx context.Context) error {
	h.pubsub = h.rdb.Subscribe(ctx, Channel)
	if _, err := h.pubsub.Receive(ctx); err != nil {
		_ = h.pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", Channel, err)
	}

	h.wg.Add(1)
	go h.run(h.pubsub.Channel())

	h.logger.Info().Str("channel", Channel).Msg("Event hub started")
	return nil
}

// Stop detaches from the shared channel, waits for the fan-out loop to
// drain, and closes every open subscription.
func (h *Hub) Stop() {
	h.stopped.Do(func() {
		close(h.stopCh)
		if h.pubsub != nil {
			_ = h.pubsub.Close()
		}
		h.wg.Wait()

		h.mu.Lock()
		h.closed = true
		for topic, subs := range h.rooms {
			for sub := range subs {
				close(sub.ch)
			}
			delete(h.rooms, topic)
		}
		h.mu.Unlock()

		h.logger.Info().Msg("Event hub stopped")
	})
}

// Subscribe opens a buffered subscription to one topic. After Stop the
// returned channel is already closed, so consumers that race a shutdown
// terminate instead of waiting on a hub that will never deliver.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		Topic: topic,
		ch:    make(chan Event, subscriptionBuffer),
	}
	sub.C = sub.ch

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	room, ok := h.rooms[topic]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[topic] = room
	}
	room[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches a subscription and closes its channel. Calling it
// twice, or after Stop, is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sub.Topic]
	if !ok {
		return
	}
	if _, ok := room[sub]; !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.Topic)
	}
	close(sub.ch)
}

// SubscribedServiceIDs returns the ids of services that currently have at
// least one live subscriber, sorted for deterministic iteration. The
// metrics sampler polls this set.
func (h *Hub) SubscribedServiceIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ids []string
	for topic, subs := range h.rooms {
		if len(subs) == 0 {
			continue
		}
		if id, ok := strings.CutPrefix(topic, "service:"); ok && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SubscriberCount reports how many subscriptions a topic has.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

func (h *Hub) run(msgs <-chan *redis.Message) {
	defer h.wg.Done()

	for {
		select {
		case <-h.stopCh:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.logger.Warn().Err(err).Msg("Discarding malformed event")
				continue
			}
			h.deliver(ev)
		}
	}
}

// deliver fans one event out to its room. The read lock excludes
// Unsubscribe, so a send can never race a channel close.
func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.rooms[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			// Subscriber buffer full, skip.
			metrics.EventsDroppedTotal.Inc()
		}
	}
}
