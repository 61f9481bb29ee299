package local

import (
	"context"
	"sync"
	"sync/atomic"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

type subscriber struct {
	ch     chan *LocalMessage
	closed bool
}

// LocalPubSub is an in-process fan-out pub/sub. A full subscriber buffer
// drops the message instead of stalling the arena that published it.
type LocalPubSub struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	bufSize     int
	dropped     atomic.Uint64
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subscribers: make(map[string][]*subscriber),
		bufSize:     bufSize,
	}
}

// Publish sends a message to all subscribers of the given channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	// Sends happen under the read lock so cancel cannot close a channel
	// mid-send.
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, s := range ps.subscribers[channel] {
		if s.closed {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			ps.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe returns a channel of messages for the given channels and a
// cancel function that unsubscribes and closes it. The subscription also
// ends when ctx is done.
func (ps *LocalPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s := &subscriber{ch: make(chan *LocalMessage, ps.bufSize)}

	ps.mu.Lock()
	for _, c := range channels {
		ps.subscribers[c] = append(ps.subscribers[c], s)
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { ps.unsubscribe(s, channels) })
	}
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, cancel)
		inner := cancel
		cancel = func() {
			stop()
			inner()
		}
	}
	return s.ch, cancel, nil
}

func (ps *LocalPubSub) unsubscribe(s *subscriber, channels []string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, c := range channels {
		list := ps.subscribers[c]
		for j, sub := range list {
			if sub == s {
				ps.subscribers[c] = append(list[:j:j], list[j+1:]...)
				break
			}
		}
		if len(ps.subscribers[c]) == 0 {
			delete(ps.subscribers, c)
		}
	}
	s.closed = true
	close(s.ch)
}

// Subscribers returns the number of live subscriptions on channel.
func (ps *LocalPubSub) Subscribers(channel string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[channel])
}

// Dropped returns how many messages were discarded because a subscriber
// was not keeping up.
func (ps *LocalPubSub) Dropped() uint64 { return ps.dropped.Load() }
