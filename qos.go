package mqttv3

import (
	"errors"
	"fmt"
)

// QoS is the delivery guarantee of a published message. Levels are ordered.
type QoS byte

// Quality of service levels.
const (
	QoS0 QoS = 0
	QoS1 QoS = 1
	QoS2 QoS = 2

	AtMostOnce  = QoS0
	AtLeastOnce = QoS1
	ExactlyOnce = QoS2
)

// Valid returns true for QoS 0, 1 and 2.
func (q QoS) Valid() bool {
	return q <= QoS2
}

func (q QoS) String() string {
	switch q {
	case QoS0:
		return "AtMostOnce"
	case QoS1:
		return "AtLeastOnce"
	case QoS2:
		return "ExactlyOnce"
	default:
		return fmt.Sprintf("QoS(%d)", byte(q))
	}
}

// ParseQoS accepts "0", "1", "2" and the "qos0".."qos2" spelling used by the CLI.
func ParseQoS(s string) (QoS, error) {
	switch s {
	case "0", "qos0", "QoS0", "AtMostOnce":
		return QoS0, nil
	case "1", "qos1", "QoS1", "AtLeastOnce":
		return QoS1, nil
	case "2", "qos2", "QoS2", "ExactlyOnce":
		return QoS2, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidQoS, s)
	}
}

var (
	ErrPacketIDExhausted = errors.New("no available packet IDs")
	ErrPacketIDNotFound  = errors.New("packet ID not found")
)

// PacketIDManager allocates packet IDs (1-65535).
//
// Allocation is monotonic with wraparound and skips every ID that has not been
// released. It is not safe for concurrent use; the Session owns it.
type PacketIDManager struct {
	used map[uint16]struct{}
	next uint16
}

// NewPacketIDManager creates a new packet ID manager.
func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{
		used: make(map[uint16]struct{}),
		next: 1,
	}
}

// Allocate returns the next available packet ID.
func (m *PacketIDManager) Allocate() (uint16, error) {
	if len(m.used) >= maxUint16 {
		return 0, ErrPacketIDExhausted
	}

	for {
		id := m.next
		m.next++
		if m.next == 0 {
			m.next = 1
		}

		if _, ok := m.used[id]; !ok {
			m.used[id] = struct{}{}
			return id, nil
		}
	}
}

// Release releases a packet ID for reuse.
func (m *PacketIDManager) Release(id uint16) error {
	if _, ok := m.used[id]; !ok {
		return ErrPacketIDNotFound
	}
	delete(m.used, id)
	return nil
}

// IsUsed returns true if the packet ID is currently in use.
func (m *PacketIDManager) IsUsed(id uint16) bool {
	_, ok := m.used[id]
	return ok
}

// InUse returns the count of packet IDs currently in use.
func (m *PacketIDManager) InUse() int {
	return len(m.used)
}

// Reset releases every ID. The allocation cursor is kept so that IDs from an
// abandoned exchange are not immediately reissued.
func (m *PacketIDManager) Reset() {
	clear(m.used)
}
