// Package subscription keeps the topic to subscriber mapping shared by every
// session of a broker.
package subscription

import (
	"sort"
	"sync"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
)

// Registry maps exact topic names to the sessions subscribed to them.
// All state is guarded by one lock; lookups return copies.
type Registry struct {
	mu        sync.RWMutex
	topics    map[string]map[*connection.Session]byte
	bySession map[*connection.Session]map[string]struct{}
}

var _ connection.Unsubscriber = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		topics:    make(map[string]map[*connection.Session]byte),
		bySession: make(map[*connection.Session]map[string]struct{}),
	}
}

// Subscribe adds s to topic, updating the stored qos when already present.
// Closed sessions are refused so teardown never races a late subscribe.
func (r *Registry) Subscribe(s *connection.Session, topic string, qos byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Closed() {
		return false
	}

	subscribers, ok := r.topics[topic]
	if !ok {
		subscribers = make(map[*connection.Session]byte)
		r.topics[topic] = subscribers
	}
	subscribers[s] = qos

	topics, ok := r.bySession[s]
	if !ok {
		topics = make(map[string]struct{})
		r.bySession[s] = topics
	}
	topics[topic] = struct{}{}
	return true
}

// Unsubscribe removes s from topic and reports whether it was subscribed.
func (r *Registry) Unsubscribe(s *connection.Session, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscribers, ok := r.topics[topic]
	if !ok {
		return false
	}
	if _, ok := subscribers[s]; !ok {
		return false
	}
	r.remove(s, topic)
	return true
}

// UnsubscribeAll removes s from every topic and returns how many it held.
func (r *Registry) UnsubscribeAll(s *connection.Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := r.bySession[s]
	count := len(topics)
	for topic := range topics {
		r.remove(s, topic)
	}
	delete(r.bySession, s)
	return count
}

// remove must be called with the write lock held.
func (r *Registry) remove(s *connection.Session, topic string) {
	if subscribers, ok := r.topics[topic]; ok {
		delete(subscribers, s)
		if len(subscribers) == 0 {
			delete(r.topics, topic)
		}
	}
	if topics, ok := r.bySession[s]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(r.bySession, s)
		}
	}
}

// SubscribersOf returns a snapshot of the sessions subscribed to topic.
func (r *Registry) SubscribersOf(topic string) []*connection.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscribers := r.topics[topic]
	if len(subscribers) == 0 {
		return nil
	}
	result := make([]*connection.Session, 0, len(subscribers))
	for s := range subscribers {
		result = append(result, s)
	}
	return result
}

// TopicsOf returns the sorted topics s is subscribed to.
func (r *Registry) TopicsOf(s *connection.Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.bySession[s]))
	for topic := range r.bySession[s] {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// SubscriptionCount is the number of (session, topic) pairs.
func (r *Registry) SubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, subscribers := range r.topics {
		count += len(subscribers)
	}
	return count
}
