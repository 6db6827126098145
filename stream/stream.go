// Package stream fans task changes out to live board connections. Writes
// are published on a Redis channel so every API instance hears them, and
// each instance wakes the subscribers of the affected user.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultChannel is the Redis channel changes travel on.
const DefaultChannel = "kanban:task-changes"

// Change describes one successful task write.
type Change struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
}

// Publisher sends changes to the Redis channel.
type Publisher struct {
	rc      *redis.Client
	channel string
}

// NewPublisher creates a Publisher. An empty channel uses DefaultChannel.
func NewPublisher(rc *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rc: rc, channel: channel}
}

// TasksChanged publishes a change for ownerID.
func (p *Publisher) TasksChanged(ctx context.Context, ownerID, change, taskID string) error {
	data, err := sonic.Marshal(Change{UserID: ownerID, Type: change, TaskID: taskID})
	if err != nil {
		return err
	}
	return p.rc.Publish(ctx, p.channel, data).Err()
}

// Broker keeps the live subscribers of each user.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[chan struct{}]struct{}
	closed bool
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers a subscriber for userID. The returned channel receives
// a signal after changes; bursts collapse into one pending signal. It is
// closed when the Broker closes. The cancel func must be called when the
// subscriber goes away.
func (b *Broker) Subscribe(userID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := b.subs[userID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[userID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
		})
	}
}

// Notify wakes every subscriber of userID without blocking.
func (b *Broker) Notify(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[userID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close closes every subscriber channel so live streams end.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for ch := range set {
			close(ch)
		}
	}
	b.subs = make(map[string]map[chan struct{}]struct{})
}

// Subscribers returns the number of live subscribers of userID.
func (b *Broker) Subscribers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}

// Listen subscribes to channel and notifies b for every change until ctx is
// cancelled. A closed subscription is reopened after a second.
func Listen(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, b *Broker) {
	if channel == "" {
		channel = DefaultChannel
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		drain(ctx, logger, sub.Channel(), b)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("task change subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func drain(ctx context.Context, logger *log.Logger, ch <-chan *redis.Message, b *Broker) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var c Change
			if err := sonic.UnmarshalString(msg.Payload, &c); err != nil || c.UserID == "" {
				logger.WithField("payload", msg.Payload).Warn("dropping malformed task change")
				continue
			}
			logger.WithFields(log.Fields{"user": c.UserID, "type": c.Type, "task": c.TaskID}).Debug("task change")
			b.Notify(c.UserID)
		}
	}
}
