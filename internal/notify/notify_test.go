package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *recordingSink) Send(e Event) error {
	if s.fail {
		return errors.New("sink gone")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestPublishDeliversOnlyToSubscribedUser(t *testing.T) {
	hub := NewHub()
	u1sink := &recordingSink{}
	u2sink := &recordingSink{}
	hub.Subscribe("u1", u1sink)
	hub.Subscribe("u2", u2sink)

	hub.Publish("u1", Event{Type: "memory.created"})
	assert.Equal(t, 1, u1sink.count())
	assert.Equal(t, 0, u2sink.count())
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	hub := NewHub()
	bad := &recordingSink{fail: true}
	good := &recordingSink{}
	hub.Subscribe("u1", bad)
	hub.Subscribe("u1", good)

	hub.Publish("u1", Event{Type: "cluster.pending"})
	assert.Equal(t, 1, good.count())
}

func TestBroadcastReachesAllUsers(t *testing.T) {
	hub := NewHub()
	u1sink := &recordingSink{}
	u2sink := &recordingSink{}
	hub.Subscribe("u1", u1sink)
	hub.Subscribe("u2", u2sink)

	hub.Broadcast(Event{Type: "system.maintenance"})
	assert.Equal(t, 1, u1sink.count())
	assert.Equal(t, 1, u2sink.count())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	sink := &recordingSink{}
	hub.Subscribe("u1", sink)
	hub.Unsubscribe("u1", sink)

	hub.Publish("u1", Event{Type: "memory.created"})
	assert.Equal(t, 0, sink.count())
}
