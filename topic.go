package mqttv3

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
	systemTopicPrefix   = '$'
)

// ValidateTopicName validates a topic name.
// Topic names cannot contain wildcards and must be valid UTF-8.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if len(topic) > maxUint16 || !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}

	for i := range len(topic) {
		switch topic[i] {
		case 0, singleLevelWildcard, multiLevelWildcard:
			return ErrInvalidTopicName
		}
	}

	return nil
}

// ValidateTopicFilter validates a topic filter.
// A wildcard must occupy a whole level and '#' must be the last level.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if len(filter) > maxUint16 || !utf8.ValidString(filter) {
		return ErrInvalidTopicFilter
	}

	if strings.IndexByte(filter, 0) >= 0 {
		return ErrInvalidTopicFilter
	}

	rest := filter
	for {
		level, tail, more := strings.Cut(rest, string(topicSeparator))

		if strings.IndexByte(level, singleLevelWildcard) >= 0 && level != "+" {
			return ErrInvalidTopicFilter
		}

		if strings.IndexByte(level, multiLevelWildcard) >= 0 && (level != "#" || more) {
			return ErrInvalidTopicFilter
		}

		if !more {
			return nil
		}
		rest = tail
	}
}

// TopicMatch reports whether topic matches filter.
//
// '+' matches exactly one level, which may be empty. '#' matches the rest of
// the topic including the parent level, so "sport/#" matches "sport". Topics
// starting with '$' are not matched by a wildcard in the first level.
// Matching is case-sensitive and does not allocate.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if topic[0] == systemTopicPrefix {
		if filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard {
			return false
		}
	}

	return matchLevels(filter, topic)
}

func matchLevels(filter, topic string) bool {
	topicDone := false

	for {
		flevel, frest, fmore := strings.Cut(filter, string(topicSeparator))

		if flevel == "#" {
			return !fmore
		}

		if topicDone {
			return false
		}

		tlevel, trest, tmore := strings.Cut(topic, string(topicSeparator))

		if flevel != "+" && flevel != tlevel {
			return false
		}

		if !fmore {
			return !tmore
		}

		filter, topic = frest, trest
		topicDone = !tmore
	}
}

// IsSystemTopic returns true if the topic is a broker system topic.
func IsSystemTopic(topic string) bool {
	return strings.HasPrefix(topic, "$SYS/") || topic == "$SYS"
}

// TopicMatcher indexes values by topic filter for fast lookup by topic name.
// It is not safe for concurrent use.
type TopicMatcher[V any] struct {
	root *topicNode[V]
	size int
}

type topicNode[V any] struct {
	children map[string]*topicNode[V]
	values   []V
}

// NewTopicMatcher creates a new topic matcher.
func NewTopicMatcher[V any]() *TopicMatcher[V] {
	return &TopicMatcher[V]{root: &topicNode[V]{}}
}

// Add registers value under filter.
func (m *TopicMatcher[V]) Add(filter string, value V) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}

	node := m.root
	for level := range strings.SplitSeq(filter, string(topicSeparator)) {
		if node.children == nil {
			node.children = make(map[string]*topicNode[V])
		}

		child, ok := node.children[level]
		if !ok {
			child = &topicNode[V]{}
			node.children[level] = child
		}
		node = child
	}

	node.values = append(node.values, value)
	m.size++
	return nil
}

// Remove drops every value registered under filter.
// Returns the number of values removed.
func (m *TopicMatcher[V]) Remove(filter string) int {
	node := m.root
	for level := range strings.SplitSeq(filter, string(topicSeparator)) {
		child, ok := node.children[level]
		if !ok {
			return 0
		}
		node = child
	}

	n := len(node.values)
	node.values = nil
	m.size -= n
	return n
}

// Len returns the number of registered values.
func (m *TopicMatcher[V]) Len() int {
	return m.size
}

// Match returns all values whose filter matches topic.
func (m *TopicMatcher[V]) Match(topic string) []V {
	if err := ValidateTopicName(topic); err != nil {
		return nil
	}

	levels := strings.Split(topic, string(topicSeparator))
	isSystemTopic := topic[0] == systemTopicPrefix

	var values []V
	m.matchNode(m.root, levels, 0, isSystemTopic, &values)
	return values
}

func (m *TopicMatcher[V]) matchNode(node *topicNode[V], levels []string, idx int, isSystemTopic bool, values *[]V) {
	wildcardsAllowed := !isSystemTopic || idx > 0

	// '#' also matches the parent level, so it is checked before the end test.
	if wildcardsAllowed {
		if child, ok := node.children[string(multiLevelWildcard)]; ok {
			*values = append(*values, child.values...)
		}
	}

	if idx >= len(levels) {
		*values = append(*values, node.values...)
		return
	}

	if child, ok := node.children[levels[idx]]; ok {
		m.matchNode(child, levels, idx+1, isSystemTopic, values)
	}

	if wildcardsAllowed {
		if child, ok := node.children[string(singleLevelWildcard)]; ok {
			m.matchNode(child, levels, idx+1, isSystemTopic, values)
		}
	}
}
