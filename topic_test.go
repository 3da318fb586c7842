package mqttv3

import (
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTopicName(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr error
	}{
		{"simple", "test", nil},
		{"levels", "a/b/c/d", nil},
		{"leading slash", "/test", nil},
		{"trailing slash", "test/", nil},
		{"empty level", "a//b", nil},
		{"system", "$SYS/broker/uptime", nil},
		{"utf8", "sensor/température/°C", nil},
		{"empty", "", ErrEmptyTopic},
		{"plus", "test/+/topic", ErrInvalidTopicName},
		{"hash", "test/#", ErrInvalidTopicName},
		{"null", "test\x00topic", ErrInvalidTopicName},
		{"invalid utf8", "a/\xc3\x28", ErrInvalidTopicName},
		{"too long", strings.Repeat("a", maxUint16+1), ErrInvalidTopicName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopicName(tt.topic)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		wantErr error
	}{
		{"simple", "test", nil},
		{"plus", "+", nil},
		{"plus in middle", "test/+/topic", nil},
		{"hash", "#", nil},
		{"hash at end", "test/#", nil},
		{"all plus", "+/+/+", nil},
		{"combined", "+/test/#", nil},
		{"system", "$SYS/#", nil},
		{"empty", "", ErrEmptyTopic},
		{"plus joined", "test+", ErrInvalidTopicFilter},
		{"plus mixed", "te+st", ErrInvalidTopicFilter},
		{"hash joined", "test#", ErrInvalidTopicFilter},
		{"hash first", "#/test", ErrInvalidTopicFilter},
		{"hash in middle", "test/#/more", ErrInvalidTopicFilter},
		{"null", "test\x00filter", ErrInvalidTopicFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopicFilter(tt.filter)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

var topicMatchCases = []struct {
	filter string
	topic  string
	match  bool
}{
	{"sport/tennis/player1", "sport/tennis/player1", true},
	{"sport/tennis/player1", "sport/tennis/player2", false},
	{"sport/tennis/player1", "Sport/Tennis/Player1", false},
	{"sport/tennis/player1/#", "sport/tennis/player1", true},
	{"sport/tennis/player1/#", "sport/tennis/player1/ranking", true},
	{"sport/tennis/player1/#", "sport/tennis/player1/score/wimbledon", true},
	{"sport/#", "sport", true},
	{"#", "sport/tennis", true},
	{"#", "/", true},
	{"sport/tennis/+", "sport/tennis/player1", true},
	{"sport/tennis/+", "sport/tennis/player1/ranking", false},
	{"sport/tennis/+", "sport/tennis", false},
	{"sport/+", "sport", false},
	{"sport/+", "sport/", true},
	{"+", "sport", true},
	{"+", "/finance", false},
	{"+/+", "/finance", true},
	{"/+", "/finance", true},
	{"a/+/b", "a//b", true},
	{"+/tennis/#", "sport/tennis/player1", true},
	{"#", "$SYS/broker/uptime", false},
	{"+/broker/uptime", "$SYS/broker/uptime", false},
	{"$SYS/#", "$SYS/broker/uptime", true},
	{"$SYS/+/uptime", "$SYS/broker/uptime", true},
	{"$share/#", "$share", true},
	{"a/b", "a/b/c", false},
	{"a/b/c", "a/b", false},
	{"", "a", false},
	{"a", "", false},
}

func TestTopicMatch(t *testing.T) {
	for _, tt := range topicMatchCases {
		t.Run(tt.filter+" "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.match, TopicMatch(tt.filter, tt.topic))
		})
	}
}

func TestTopicMatchNoAlloc(t *testing.T) {
	allocs := testing.AllocsPerRun(100, func() {
		TopicMatch("sport/+/player1/#", "sport/tennis/player1/score/wimbledon")
	})
	assert.Zero(t, allocs)
}

func TestIsSystemTopic(t *testing.T) {
	assert.True(t, IsSystemTopic("$SYS"))
	assert.True(t, IsSystemTopic("$SYS/broker/clients"))
	assert.False(t, IsSystemTopic("$SYSTEM"))
	assert.False(t, IsSystemTopic("sys/broker"))
}

func TestTopicMatcher(t *testing.T) {
	m := NewTopicMatcher[string]()

	for _, tt := range topicMatchCases {
		if ValidateTopicFilter(tt.filter) == nil {
			require.NoError(t, m.Add(tt.filter, tt.filter))
		}
	}

	// the trie must agree with TopicMatch for every topic
	for _, tt := range topicMatchCases {
		if ValidateTopicName(tt.topic) != nil {
			assert.Empty(t, m.Match(tt.topic))
			continue
		}

		var want []string
		for _, c := range topicMatchCases {
			if ValidateTopicFilter(c.filter) == nil && TopicMatch(c.filter, tt.topic) {
				want = append(want, c.filter)
			}
		}

		got := m.Match(tt.topic)
		slices.Sort(got)
		slices.Sort(want)
		assert.Equal(t, want, got, "topic %q", tt.topic)
	}
}

func TestTopicMatcherRemove(t *testing.T) {
	m := NewTopicMatcher[int]()

	require.NoError(t, m.Add("a/+", 1))
	require.NoError(t, m.Add("a/+", 2))
	require.NoError(t, m.Add("a/#", 3))
	assert.Equal(t, 3, m.Len())

	assert.ElementsMatch(t, []int{1, 2, 3}, m.Match("a/b"))

	assert.Equal(t, 2, m.Remove("a/+"))
	assert.Equal(t, 0, m.Remove("a/+"))
	assert.Equal(t, 0, m.Remove("x/y/z"))
	assert.Equal(t, 1, m.Len())

	assert.Equal(t, []int{3}, m.Match("a/b"))
}

func TestTopicMatcherInvalid(t *testing.T) {
	m := NewTopicMatcher[int]()

	assert.ErrorIs(t, m.Add("a/#/b", 1), ErrInvalidTopicFilter)
	assert.ErrorIs(t, m.Add("", 1), ErrEmptyTopic)
	assert.Zero(t, m.Len())

	require.NoError(t, m.Add("#", 1))
	assert.Nil(t, m.Match("a/+"))
	assert.Nil(t, m.Match(""))
}

func BenchmarkTopicMatch(b *testing.B) {
	b.ReportAllocs()

	for b.Loop() {
		TopicMatch("sport/+/player1/#", "sport/tennis/player1/score/wimbledon")
	}
}

func BenchmarkTopicMatcherMatch(b *testing.B) {
	m := NewTopicMatcher[int]()
	for i := range 1000 {
		_ = m.Add("sensors/"+strings.Repeat("x", i%17)+"/+", i)
	}
	_ = m.Add("sensors/#", -1)

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		m.Match("sensors/xxxx/temperature")
	}
}

func BenchmarkValidateTopicFilter(b *testing.B) {
	b.ReportAllocs()

	for b.Loop() {
		_ = ValidateTopicFilter("sport/+/player1/#")
	}
}

func FuzzTopicMatch(f *testing.F) {
	for _, tt := range topicMatchCases {
		f.Add(tt.filter, tt.topic)
	}

	levels := []string{"a", "b", "+", "#", "", "$SYS"}
	for range 10 {
		var parts []string
		for range rand.IntN(4) + 1 {
			parts = append(parts, levels[rand.IntN(len(levels))])
		}
		f.Add(strings.Join(parts, "/"), "a/b/c")
	}

	f.Fuzz(func(t *testing.T, filter, topic string) {
		got := TopicMatch(filter, topic)

		if filter == topic && ValidateTopicName(topic) == nil && !got {
			t.Fatalf("%q must match itself", topic)
		}
		if got && filter != "" && topic[0] == '$' && (filter[0] == '+' || filter[0] == '#') {
			t.Fatalf("wildcard %q matched system topic %q", filter, topic)
		}

		if ValidateTopicFilter(filter) != nil || ValidateTopicName(topic) != nil {
			return
		}

		m := NewTopicMatcher[bool]()
		_ = m.Add(filter, true)
		if trie := len(m.Match(topic)) == 1; trie != got {
			t.Fatalf("TopicMatch(%q, %q) = %v, matcher = %v", filter, topic, got, trie)
		}
	})
}
