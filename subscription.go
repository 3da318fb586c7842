package mqttv3

import (
	"slices"
	"strings"
)

// SubscriptionState is a registry entry: what was asked for and what the
// broker granted, recorded exactly as received.
type SubscriptionState struct {
	TopicFilter  string
	RequestedQoS QoS
	GrantedQoS   QoS
}

// SubscriptionRegistry holds at most one entry per topic filter.
type SubscriptionRegistry struct {
	entries map[string]SubscriptionState
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{entries: make(map[string]SubscriptionState)}
}

// Set records a subscription, replacing any entry with the same filter.
func (r *SubscriptionRegistry) Set(state SubscriptionState) {
	r.entries[state.TopicFilter] = state
}

// Get returns the entry for filter.
func (r *SubscriptionRegistry) Get(filter string) (SubscriptionState, bool) {
	s, ok := r.entries[filter]
	return s, ok
}

// Remove deletes the entry for filter.
func (r *SubscriptionRegistry) Remove(filter string) {
	delete(r.entries, filter)
}

// Clear removes every entry.
func (r *SubscriptionRegistry) Clear() {
	clear(r.entries)
}

// Len returns the number of entries.
func (r *SubscriptionRegistry) Len() int {
	return len(r.entries)
}

// All returns the entries sorted by topic filter.
func (r *SubscriptionRegistry) All() []SubscriptionState {
	out := make([]SubscriptionState, 0, len(r.entries))
	for _, s := range r.entries {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b SubscriptionState) int {
		return strings.Compare(a.TopicFilter, b.TopicFilter)
	})
	return out
}

// Matches reports whether any registered filter matches topic.
func (r *SubscriptionRegistry) Matches(topic string) bool {
	for filter := range r.entries {
		if TopicMatch(filter, topic) {
			return true
		}
	}
	return false
}
