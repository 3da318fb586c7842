package mqttv3

import (
	"cmp"
	"slices"
	"time"
)

// ExchangeStage is the protocol stage of an in-flight QoS exchange.
type ExchangeStage int

const (
	// StageSent: PUBLISH written, waiting for PUBACK or PUBREC.
	StageSent ExchangeStage = iota
	// StageReceived: outgoing QoS 2 has seen PUBREC and sent PUBREL;
	// incoming QoS 2 has delivered the message and sent PUBREC.
	StageReceived
	// StageAcknowledged is terminal for outgoing QoS 1.
	StageAcknowledged
	// StageCompleted is terminal for outgoing QoS 2.
	StageCompleted
	// StageReleased is terminal for incoming QoS 2.
	StageReleased
)

func (s ExchangeStage) String() string {
	switch s {
	case StageSent:
		return "sent"
	case StageReceived:
		return "received"
	case StageAcknowledged:
		return "acknowledged"
	case StageCompleted:
		return "completed"
	case StageReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further packets are expected for the exchange.
func (s ExchangeStage) Terminal() bool {
	return s >= StageAcknowledged
}

// OutgoingExchange tracks a QoS 1 or QoS 2 PUBLISH sent by the client.
type OutgoingExchange struct {
	PacketID      uint16
	Packet        *PublishPacket
	QoS           QoS
	Stage         ExchangeStage
	RetryDeadline time.Time
	Attempts      int

	seq uint64
}

// IncomingExchange tracks a QoS 2 PUBLISH received from the broker until PUBREL.
type IncomingExchange struct {
	PacketID uint16
	Stage    ExchangeStage
}

// outgoingTable holds outgoing exchanges keyed by packet ID and remembers
// send order for retransmission.
type outgoingTable struct {
	entries map[uint16]*OutgoingExchange
	seq     uint64
}

func newOutgoingTable() *outgoingTable {
	return &outgoingTable{entries: make(map[uint16]*OutgoingExchange)}
}

func (t *outgoingTable) add(ex *OutgoingExchange) {
	t.seq++
	ex.seq = t.seq
	t.entries[ex.PacketID] = ex
}

func (t *outgoingTable) get(id uint16) (*OutgoingExchange, bool) {
	ex, ok := t.entries[id]
	return ex, ok
}

func (t *outgoingTable) remove(id uint16) {
	delete(t.entries, id)
}

func (t *outgoingTable) len() int {
	return len(t.entries)
}

func (t *outgoingTable) clear() {
	clear(t.entries)
}

// ordered returns the exchanges in the order they were first sent.
func (t *outgoingTable) ordered() []*OutgoingExchange {
	out := make([]*OutgoingExchange, 0, len(t.entries))
	for _, ex := range t.entries {
		out = append(out, ex)
	}
	slices.SortFunc(out, func(a, b *OutgoingExchange) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// nextDeadline returns the earliest retry deadline, zero when none is set.
func (t *outgoingTable) nextDeadline() time.Time {
	var next time.Time
	for _, ex := range t.entries {
		if ex.RetryDeadline.IsZero() {
			continue
		}
		if next.IsZero() || ex.RetryDeadline.Before(next) {
			next = ex.RetryDeadline
		}
	}
	return next
}

// incomingTable holds incoming QoS 2 exchanges keyed by packet ID.
type incomingTable struct {
	entries map[uint16]*IncomingExchange
}

func newIncomingTable() *incomingTable {
	return &incomingTable{entries: make(map[uint16]*IncomingExchange)}
}

func (t *incomingTable) add(id uint16) *IncomingExchange {
	ex := &IncomingExchange{PacketID: id, Stage: StageReceived}
	t.entries[id] = ex
	return ex
}

func (t *incomingTable) get(id uint16) (*IncomingExchange, bool) {
	ex, ok := t.entries[id]
	return ex, ok
}

func (t *incomingTable) remove(id uint16) {
	delete(t.entries, id)
}

func (t *incomingTable) len() int {
	return len(t.entries)
}

func (t *incomingTable) clear() {
	clear(t.entries)
}
