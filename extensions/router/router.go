package router

import (
	"context"
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/mqttv3"
)

// Handler processes an MQTT message.
type Handler func(msg *mqttv3.Message)

// Condition defines filtering criteria for message routing.
type Condition struct {
	topicFilter    *string
	qos            *mqttv3.QoS
	retain         *bool
	payloadRegexp  *regexp.Regexp
	topicRegexp    *regexp.Regexp
	skipDuplicates bool
}

// ConditionOption configures a Condition.
type ConditionOption func(*Condition)

// WithTopic sets the topic filter for message matching.
// Supports MQTT wildcards: + (single level) and # (multi level).
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) {
		c.topicFilter = &filter
	}
}

// WithQoS filters messages by delivery QoS.
func WithQoS(qos mqttv3.QoS) ConditionOption {
	return func(c *Condition) {
		c.qos = &qos
	}
}

// WithRetain filters messages by the retain flag.
func WithRetain(retain bool) ConditionOption {
	return func(c *Condition) {
		c.retain = &retain
	}
}

// WithTopicRegexp filters messages by a regexp over the topic name.
func WithTopicRegexp(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.topicRegexp = pattern
	}
}

// WithPayload filters messages by a regexp over the payload.
func WithPayload(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.payloadRegexp = pattern
	}
}

// WithoutDuplicates skips deliveries the broker flagged as redeliveries.
func WithoutDuplicates() ConditionOption {
	return func(c *Condition) {
		c.skipDuplicates = true
	}
}

type registration struct {
	handler   Handler
	condition Condition
}

// Router dispatches messages to handlers based on conditions.
type Router struct {
	mu       sync.RWMutex
	handlers []registration
	fallback Handler
}

// New creates a new Router.
func New() *Router {
	return &Router{
		handlers: make([]registration, 0),
	}
}

// Handle registers a handler with optional conditions.
//
// Examples:
//
//	r.Handle(handler, WithTopic("sensors/#"))
//	r.Handle(handler, WithTopic("sensors/#"), WithQoS(mqttv3.QoS1))
//	r.Handle(handler, WithTopicRegexp(regexp.MustCompile(`^sensors/\d+$`)))
func (r *Router) Handle(handler Handler, opts ...ConditionOption) {
	var cond Condition
	for _, opt := range opts {
		opt(&cond)
	}

	r.mu.Lock()
	r.handlers = append(r.handlers, registration{
		handler:   handler,
		condition: cond,
	})
	r.mu.Unlock()
}

// NotFound sets the handler for messages no registration matched.
func (r *Router) NotFound(handler Handler) {
	r.mu.Lock()
	r.fallback = handler
	r.mu.Unlock()
}

func (c *Condition) matches(msg *mqttv3.Message) bool {
	if c.topicFilter != nil && !mqttv3.TopicMatch(*c.topicFilter, msg.Topic) {
		return false
	}
	if c.qos != nil && *c.qos != msg.QoS {
		return false
	}
	if c.retain != nil && *c.retain != msg.Retain {
		return false
	}
	if c.skipDuplicates && msg.Duplicate {
		return false
	}
	if c.topicRegexp != nil && !c.topicRegexp.MatchString(msg.Topic) {
		return false
	}
	if c.payloadRegexp != nil && !c.payloadRegexp.Match(msg.Payload) {
		return false
	}
	return true
}

// Route dispatches a message to all matching handlers, or to the NotFound
// handler when none match. It reports whether any registration matched.
func (r *Router) Route(msg *mqttv3.Message) bool {
	if msg == nil {
		return false
	}

	r.mu.RLock()
	var matched []Handler
	for _, reg := range r.handlers {
		if reg.condition.matches(msg) {
			matched = append(matched, reg.handler)
		}
	}
	fallback := r.fallback
	r.mu.RUnlock()

	if len(matched) == 0 {
		if fallback != nil {
			fallback(msg)
		}
		return false
	}

	for _, handler := range matched {
		handler(msg)
	}
	return true
}

// Filters returns the unique registered topic filters in sorted order.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filters := make([]string, 0, len(r.handlers))
	for _, reg := range r.handlers {
		if reg.condition.topicFilter != nil {
			filters = append(filters, *reg.condition.topicFilter)
		}
	}
	slices.Sort(filters)
	return slices.Compact(filters)
}

// Subscriptions returns one subscription per registered filter, ready to
// pass to Client.Subscribe.
func (r *Router) Subscriptions(qos mqttv3.QoS) []mqttv3.Subscription {
	filters := r.Filters()
	subs := make([]mqttv3.Subscription, len(filters))
	for i, filter := range filters {
		subs[i] = mqttv3.Subscription{TopicFilter: filter, QoS: qos}
	}
	return subs
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clear removes all handlers.
func (r *Router) Clear() {
	r.mu.Lock()
	r.handlers = r.handlers[:0]
	r.fallback = nil
	r.mu.Unlock()
}

// Serve routes every MessageEvent read from events until the channel is
// closed or ctx ends. Other events are passed to other when it is not nil.
func (r *Router) Serve(ctx context.Context, events <-chan mqttv3.Event, other func(mqttv3.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if m, isMessage := e.(mqttv3.MessageEvent); isMessage {
				r.Route(m.Message)
			} else if other != nil {
				other(e)
			}
		}
	}
}
