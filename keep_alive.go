package mqttv3

import (
	"time"
)

// KeepAliveTracker decides when a client must ping and when the broker has
// stopped answering. Time is always passed in; it never reads a clock.
type KeepAliveTracker struct {
	interval     time.Duration
	lastActivity time.Time
	lastSent     time.Time
	pingSentAt   time.Time
}

// NewKeepAliveTracker creates a tracker for the given keep-alive in seconds.
// Zero disables keep-alive.
func NewKeepAliveTracker(seconds uint16) *KeepAliveTracker {
	return &KeepAliveTracker{interval: time.Duration(seconds) * time.Second}
}

// Interval returns the negotiated keep-alive interval.
func (k *KeepAliveTracker) Interval() time.Duration {
	return k.interval
}

// Reset starts tracking a fresh connection at now.
func (k *KeepAliveTracker) Reset(now time.Time) {
	k.lastActivity = now
	k.lastSent = now
	k.pingSentAt = time.Time{}
}

// PacketSent records outbound traffic.
func (k *KeepAliveTracker) PacketSent(now time.Time) {
	k.lastActivity = now
	k.lastSent = now
}

// PacketReceived records inbound traffic.
func (k *KeepAliveTracker) PacketReceived(now time.Time) {
	k.lastActivity = now
}

// LastActivity returns when a packet was last sent or received.
func (k *KeepAliveTracker) LastActivity() time.Time {
	return k.lastActivity
}

// PingDue reports whether a PINGREQ should be sent at now.
// The broker only counts packets it receives, so only outbound traffic defers the ping.
func (k *KeepAliveTracker) PingDue(now time.Time) bool {
	if k.interval == 0 || k.PingPending() {
		return false
	}
	return now.Sub(k.lastSent) >= k.interval
}

// PingSent marks a PINGREQ as outstanding.
func (k *KeepAliveTracker) PingSent(now time.Time) {
	k.pingSentAt = now
	k.PacketSent(now)
}

// PingPending reports whether a PINGREQ is waiting for its PINGRESP.
func (k *KeepAliveTracker) PingPending() bool {
	return !k.pingSentAt.IsZero()
}

// PongReceived clears the outstanding ping. It returns false when no ping
// was outstanding.
func (k *KeepAliveTracker) PongReceived() bool {
	if !k.PingPending() {
		return false
	}
	k.pingSentAt = time.Time{}
	return true
}

// Expired reports whether the outstanding ping went unanswered for a full interval.
func (k *KeepAliveTracker) Expired(now time.Time) bool {
	return k.PingPending() && now.Sub(k.pingSentAt) >= k.interval
}

// Deadline returns when the tracker next needs a tick, zero when disabled.
func (k *KeepAliveTracker) Deadline() time.Time {
	if k.interval == 0 {
		return time.Time{}
	}
	if k.PingPending() {
		return k.pingSentAt.Add(k.interval)
	}
	return k.lastSent.Add(k.interval)
}
