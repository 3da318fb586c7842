package mqttv3

import (
	"time"
)

// SessionState is the connection state of a Session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateAwaitingConnAck
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingConnAck:
		return "awaiting_connack"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// SessionConfig configures a Session.
type SessionConfig struct {
	ClientID     string
	CleanSession bool
	// KeepAlive is in seconds; zero disables pings.
	KeepAlive uint16
	Will      *Will
	Username  string
	Password  []byte

	// ConnectTimeout bounds the wait for CONNACK; zero waits forever.
	ConnectTimeout time.Duration

	// RetryInterval re-sends unacknowledged PUBLISH and PUBREL packets while
	// connected; zero only re-sends them when a session is resumed.
	RetryInterval time.Duration

	// ResubscribeOnReconnect re-issues the registered subscriptions when the
	// broker reports that no session was resumed. Otherwise the registry is
	// cleared, since the broker no longer holds them.
	ResubscribeOnReconnect bool

	Logger Logger
}

// PublishRequest is an application message to send.
type PublishRequest struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

type pendingSubscribe struct {
	subscriptions []Subscription
}

type pendingUnsubscribe struct {
	filters []string
}

// Session is the client protocol state machine.
//
// Every input carries the current time and returns the packets to write and
// the events to deliver. It never blocks, performs no I/O and reads no
// clock. A Session is not safe for concurrent use: one goroutine must own it
// and feed it user requests, decoded packets and ticks in order.
type Session struct {
	config SessionConfig
	logger Logger
	state  SessionState

	ids           *PacketIDManager
	outgoing      *outgoingTable
	incoming      *incomingTable
	pendingSubs   map[uint16]*pendingSubscribe
	pendingUnsubs map[uint16]*pendingUnsubscribe
	subscriptions *SubscriptionRegistry
	keepAlive     *KeepAliveTracker

	connectDeadline time.Time
	sessionPresent  bool
}

// NewSession creates a disconnected session.
func NewSession(config SessionConfig) *Session {
	logger := config.Logger
	if logger == nil {
		logger = NewNoOpLogger()
	}

	return &Session{
		config:        config,
		logger:        logger.WithFields(LogFields{LogFieldClientID: config.ClientID}),
		state:         StateDisconnected,
		ids:           NewPacketIDManager(),
		outgoing:      newOutgoingTable(),
		incoming:      newIncomingTable(),
		pendingSubs:   make(map[uint16]*pendingSubscribe),
		pendingUnsubs: make(map[uint16]*pendingUnsubscribe),
		subscriptions: NewSubscriptionRegistry(),
		keepAlive:     NewKeepAliveTracker(config.KeepAlive),
	}
}

// State returns the current connection state.
func (s *Session) State() SessionState {
	return s.state
}

// SessionPresent reports the flag of the last accepted CONNACK.
func (s *Session) SessionPresent() bool {
	return s.sessionPresent
}

// Subscriptions returns the registry entries sorted by filter.
func (s *Session) Subscriptions() []SubscriptionState {
	return s.subscriptions.All()
}

// Outgoing returns the in-flight outgoing exchange for id.
func (s *Session) Outgoing(id uint16) (*OutgoingExchange, bool) {
	return s.outgoing.get(id)
}

// Incoming returns the in-flight incoming QoS 2 exchange for id.
func (s *Session) Incoming(id uint16) (*IncomingExchange, bool) {
	return s.incoming.get(id)
}

// InflightCount returns the number of outgoing and incoming exchanges.
func (s *Session) InflightCount() (outgoing, incoming int) {
	return s.outgoing.len(), s.incoming.len()
}

// PendingRequests returns the number of subscribe and unsubscribe requests awaiting an ack.
func (s *Session) PendingRequests() int {
	return len(s.pendingSubs) + len(s.pendingUnsubs)
}

// LastActivity returns when a packet was last sent or received.
func (s *Session) LastActivity() time.Time {
	return s.keepAlive.LastActivity()
}

// Deadline returns when Tick next has work to do, zero when nothing is scheduled.
func (s *Session) Deadline() time.Time {
	switch s.state {
	case StateAwaitingConnAck:
		return s.connectDeadline
	case StateConnected:
		next := s.keepAlive.Deadline()
		if s.config.RetryInterval > 0 {
			next = earliest(next, s.outgoing.nextDeadline())
		}
		return next
	default:
		return time.Time{}
	}
}

func (s *Session) setState(state SessionState) {
	if s.state == state {
		return
	}
	s.logger.Debug("session state changed", LogFields{
		"from": s.state.String(),
		"to":   state.String(),
	})
	s.state = state
}

// send queues p for writing and records the outbound activity.
func (s *Session) send(now time.Time, out *Output, p Packet) {
	out.send(p)
	s.keepAlive.PacketSent(now)
}

// Connect starts the handshake. It is only valid while disconnected.
func (s *Session) Connect(now time.Time) (Output, error) {
	var out Output

	if s.state != StateDisconnected {
		return out, ErrAlreadyConnected
	}

	pkt := &ConnectPacket{
		ClientID:     s.config.ClientID,
		CleanSession: s.config.CleanSession,
		KeepAlive:    s.config.KeepAlive,
		Will:         s.config.Will,
		Username:     s.config.Username,
		Password:     s.config.Password,
	}
	if err := pkt.Validate(); err != nil {
		return out, err
	}

	s.setState(StateAwaitingConnAck)
	s.keepAlive.Reset(now)
	if s.config.ConnectTimeout > 0 {
		s.connectDeadline = now.Add(s.config.ConnectTimeout)
	}

	s.send(now, &out, pkt)
	return out, nil
}

// Publish sends an application message. The returned packet ID is zero for
// QoS 0, whose completion event is part of the returned output.
func (s *Session) Publish(now time.Time, req PublishRequest) (Output, uint16, error) {
	var out Output

	if s.state != StateConnected {
		return out, 0, ErrNotConnected
	}

	if req.QoS == QoS0 {
		pkt, err := NewPublishPacket(req.Topic, req.Payload, QoS0, req.Retain, false, 0)
		if err != nil {
			return out, 0, err
		}
		s.send(now, &out, pkt)
		out.emit(PublishCompleteEvent{Topic: req.Topic, QoS: QoS0})
		return out, 0, nil
	}

	id, err := s.ids.Allocate()
	if err != nil {
		return out, 0, err
	}

	pkt, err := NewPublishPacket(req.Topic, req.Payload, req.QoS, req.Retain, false, id)
	if err != nil {
		s.ids.Release(id)
		return out, 0, err
	}

	ex := &OutgoingExchange{
		PacketID: id,
		Packet:   pkt,
		QoS:      req.QoS,
		Stage:    StageSent,
		Attempts: 1,
	}
	if s.config.RetryInterval > 0 {
		ex.RetryDeadline = now.Add(s.config.RetryInterval)
	}
	s.outgoing.add(ex)

	s.send(now, &out, pkt)
	return out, id, nil
}

// Subscribe requests the given subscriptions.
func (s *Session) Subscribe(now time.Time, subs []Subscription) (Output, uint16, error) {
	var out Output

	if s.state != StateConnected {
		return out, 0, ErrNotConnected
	}

	id, err := s.subscribe(now, &out, subs)
	return out, id, err
}

func (s *Session) subscribe(now time.Time, out *Output, subs []Subscription) (uint16, error) {
	id, err := s.ids.Allocate()
	if err != nil {
		return 0, err
	}

	pkt, err := NewSubscribePacket(id, subs...)
	if err != nil {
		s.ids.Release(id)
		return 0, err
	}

	s.pendingSubs[id] = &pendingSubscribe{subscriptions: pkt.Subscriptions}
	s.send(now, out, pkt)
	return id, nil
}

// Unsubscribe removes the given topic filters.
func (s *Session) Unsubscribe(now time.Time, filters []string) (Output, uint16, error) {
	var out Output

	if s.state != StateConnected {
		return out, 0, ErrNotConnected
	}

	id, err := s.ids.Allocate()
	if err != nil {
		return out, 0, err
	}

	pkt, err := NewUnsubscribePacket(id, filters...)
	if err != nil {
		s.ids.Release(id)
		return out, 0, err
	}

	s.pendingUnsubs[id] = &pendingUnsubscribe{filters: pkt.TopicFilters}
	s.send(now, &out, pkt)
	return out, id, nil
}

// Disconnect ends the session cleanly. In-flight exchanges are dropped
// without completion events.
func (s *Session) Disconnect(now time.Time) (Output, error) {
	var out Output

	if s.state == StateDisconnected {
		return out, ErrNotConnected
	}

	if s.state == StateConnected {
		s.send(now, &out, &DisconnectPacket{})
	}

	s.setState(StateDisconnected)
	s.abandon()
	out.emit(DisconnectedEvent{})
	return out, nil
}

// ConnectionLost records that the transport failed. With a persistent
// session (clean session false) in-flight exchanges are kept for resumption
// on the next CONNACK, otherwise they are abandoned. Pending subscribe and
// unsubscribe requests are always dropped.
func (s *Session) ConnectionLost(now time.Time, cause error) Output {
	var out Output

	if s.state == StateDisconnected {
		return out
	}

	wasConnecting := s.state == StateAwaitingConnAck
	s.setState(StateDisconnected)
	s.connectDeadline = time.Time{}
	s.keepAlive.PongReceived()

	if s.config.CleanSession {
		s.abandon()
	} else {
		s.dropPendingRequests()
	}

	lost := &ConnectionLostError{Cause: cause}
	s.logger.Warn("connection lost", LogFields{LogFieldError: cause})

	if wasConnecting {
		out.emit(ConnectionFailedEvent{Err: lost})
	} else {
		out.emit(DisconnectedEvent{Err: lost})
	}
	return out
}

// abandon clears every in-flight table and releases all packet IDs.
func (s *Session) abandon() {
	s.outgoing.clear()
	s.incoming.clear()
	clear(s.pendingSubs)
	clear(s.pendingUnsubs)
	s.ids.Reset()
	s.connectDeadline = time.Time{}
	s.keepAlive.PongReceived()
}

func (s *Session) dropPendingRequests() {
	for id := range s.pendingSubs {
		s.ids.Release(id)
	}
	for id := range s.pendingUnsubs {
		s.ids.Release(id)
	}
	clear(s.pendingSubs)
	clear(s.pendingUnsubs)
}

// Tick advances time to now: it fails a handshake past its timeout, detects
// an unanswered ping, re-sends overdue exchanges and pings an idle connection.
// A non-nil error means the connection must be torn down.
func (s *Session) Tick(now time.Time) (Output, error) {
	var out Output

	switch s.state {
	case StateAwaitingConnAck:
		if !s.connectDeadline.IsZero() && !now.Before(s.connectDeadline) {
			s.setState(StateDisconnected)
			s.connectDeadline = time.Time{}
			out.emit(ConnectionFailedEvent{Err: ErrConnectTimeout})
			return out, ErrConnectTimeout
		}

	case StateConnected:
		if s.keepAlive.Expired(now) {
			s.logger.Warn("keep-alive timeout", LogFields{LogFieldDuration: s.keepAlive.Interval()})
			out.merge(s.ConnectionLost(now, ErrKeepAliveTimeout))
			return out, ErrKeepAliveTimeout
		}

		if s.config.RetryInterval > 0 {
			for _, ex := range s.outgoing.ordered() {
				if ex.RetryDeadline.IsZero() || now.Before(ex.RetryDeadline) {
					continue
				}
				s.retransmit(now, &out, ex)
			}
		}

		if s.keepAlive.PingDue(now) {
			out.send(&PingreqPacket{})
			s.keepAlive.PingSent(now)
		}
	}

	return out, nil
}

// retransmit re-sends the packet that moves ex to its next stage.
func (s *Session) retransmit(now time.Time, out *Output, ex *OutgoingExchange) {
	ex.Attempts++
	if s.config.RetryInterval > 0 {
		ex.RetryDeadline = now.Add(s.config.RetryInterval)
	}

	s.logger.Debug("retransmitting", LogFields{
		LogFieldPacketID: ex.PacketID,
		LogFieldQoS:      ex.QoS,
		"stage":          ex.Stage.String(),
		LogFieldAttempt:  ex.Attempts,
	})

	switch ex.Stage {
	case StageSent:
		s.send(now, out, ex.Packet.withDUP())
	case StageReceived:
		s.send(now, out, &PubrelPacket{PacketID: ex.PacketID})
	}
}

// HandlePacket processes a packet decoded from the broker. A non-nil error
// is fatal: the session has moved to disconnected and the transport must be
// closed.
func (s *Session) HandlePacket(now time.Time, pkt Packet) (Output, error) {
	var out Output

	if s.state == StateDisconnected {
		s.logger.Debug("packet ignored while disconnected", LogFields{LogFieldPacketType: pkt.Type().String()})
		return out, nil
	}

	s.keepAlive.PacketReceived(now)

	if s.state == StateAwaitingConnAck && pkt.Type() != PacketCONNACK {
		return out, s.violation(now, &out, pkt, 0, "expected CONNACK", true)
	}

	var err error
	switch p := pkt.(type) {
	case *ConnackPacket:
		err = s.handleConnack(now, &out, p)
	case *PublishPacket:
		err = s.handlePublish(now, &out, p)
	case *PubackPacket:
		err = s.handlePuback(now, &out, p)
	case *PubrecPacket:
		err = s.handlePubrec(now, &out, p)
	case *PubrelPacket:
		s.handlePubrel(now, &out, p)
	case *PubcompPacket:
		err = s.handlePubcomp(now, &out, p)
	case *SubackPacket:
		err = s.handleSuback(now, &out, p)
	case *UnsubackPacket:
		err = s.handleUnsuback(now, &out, p)
	case *PingrespPacket:
		if !s.keepAlive.PongReceived() {
			err = s.violation(now, &out, p, 0, "unsolicited PINGRESP", false)
		}
	default:
		err = s.violation(now, &out, pkt, 0, "packet not sent by a broker", true)
	}

	return out, err
}

// violation reports a protocol violation. Fatal violations tear the session
// down and are returned; others become a ProtocolViolationEvent.
func (s *Session) violation(now time.Time, out *Output, pkt Packet, id uint16, reason string, fatal bool) error {
	v := &ProtocolViolationError{
		Packet:   pkt.Type(),
		PacketID: id,
		Reason:   reason,
		Fatal:    fatal,
	}

	fields := LogFields{
		LogFieldPacketType: pkt.Type().String(),
		LogFieldPacketID:   id,
		LogFieldError:      reason,
	}

	if fatal {
		s.logger.Error("fatal protocol violation", fields)
		out.merge(s.ConnectionLost(now, v))
		return v
	}

	s.logger.Warn("protocol violation", fields)
	out.emit(ProtocolViolationEvent{Err: v})
	return nil
}

func (s *Session) handleConnack(now time.Time, out *Output, p *ConnackPacket) error {
	if s.state != StateAwaitingConnAck {
		return s.violation(now, out, p, 0, "CONNACK after handshake", true)
	}

	s.connectDeadline = time.Time{}

	if p.ReturnCode != ConnectionAccepted {
		s.setState(StateDisconnected)
		s.logger.Warn("connection refused", LogFields{LogFieldReturnCode: p.ReturnCode.String()})
		out.emit(ConnectionFailedEvent{Err: &ConnectError{Code: p.ReturnCode}})
		return nil
	}

	s.setState(StateConnected)
	s.sessionPresent = p.SessionPresent
	out.emit(ConnectedEvent{SessionPresent: p.SessionPresent})

	if p.SessionPresent {
		for _, ex := range s.outgoing.ordered() {
			s.retransmit(now, out, ex)
		}
		return nil
	}

	s.abandon()

	if s.subscriptions.Len() == 0 {
		return nil
	}

	// the broker holds no subscriptions for a fresh session
	if !s.config.ResubscribeOnReconnect {
		s.logger.Debug("subscriptions dropped", LogFields{LogFieldCount: s.subscriptions.Len()})
		s.subscriptions.Clear()
		return nil
	}

	registered := s.subscriptions.All()
	subs := make([]Subscription, len(registered))
	for i, r := range registered {
		subs[i] = Subscription{TopicFilter: r.TopicFilter, QoS: r.RequestedQoS}
	}

	if _, err := s.subscribe(now, out, subs); err != nil {
		s.logger.Error("resubscribe failed", LogFields{LogFieldError: err})
	}

	return nil
}

func (s *Session) handlePublish(now time.Time, out *Output, p *PublishPacket) error {
	if !s.subscriptions.Matches(p.Topic) {
		s.logger.Debug("message without matching subscription", LogFields{LogFieldTopic: p.Topic})
	}

	switch p.QoS {
	case QoS0:
		out.emit(MessageEvent{Message: p.ToMessage()})

	case QoS1:
		out.emit(MessageEvent{Message: p.ToMessage()})
		s.send(now, out, &PubackPacket{PacketID: p.PacketID})

	case QoS2:
		if _, ok := s.incoming.get(p.PacketID); ok {
			if !p.DUP {
				s.send(now, out, &PubrecPacket{PacketID: p.PacketID})
				return s.violation(now, out, p, p.PacketID, "packet ID reused before PUBREL", false)
			}
			s.logger.Debug("duplicate QoS 2 delivery suppressed", LogFields{LogFieldPacketID: p.PacketID})
			s.send(now, out, &PubrecPacket{PacketID: p.PacketID})
			return nil
		}

		s.incoming.add(p.PacketID)
		out.emit(MessageEvent{Message: p.ToMessage()})
		s.send(now, out, &PubrecPacket{PacketID: p.PacketID})
	}

	return nil
}

func (s *Session) handlePuback(now time.Time, out *Output, p *PubackPacket) error {
	ex, ok := s.outgoing.get(p.PacketID)
	if !ok {
		return s.violation(now, out, p, p.PacketID, "unknown packet ID", false)
	}
	if ex.QoS != QoS1 {
		return s.violation(now, out, p, p.PacketID, "PUBACK for a QoS 2 exchange", false)
	}

	ex.Stage = StageAcknowledged
	s.complete(out, ex)
	return nil
}

func (s *Session) handlePubrec(now time.Time, out *Output, p *PubrecPacket) error {
	ex, ok := s.outgoing.get(p.PacketID)
	if !ok {
		return s.violation(now, out, p, p.PacketID, "unknown packet ID", false)
	}
	if ex.QoS != QoS2 {
		return s.violation(now, out, p, p.PacketID, "PUBREC for a QoS 1 exchange", false)
	}

	if ex.Stage == StageSent {
		ex.Stage = StageReceived
		if s.config.RetryInterval > 0 {
			ex.RetryDeadline = now.Add(s.config.RetryInterval)
		}
	}

	// A duplicate PUBREC in the received stage gets the same PUBREL again.
	s.send(now, out, &PubrelPacket{PacketID: p.PacketID})
	return nil
}

func (s *Session) handlePubrel(now time.Time, out *Output, p *PubrelPacket) {
	if ex, ok := s.incoming.get(p.PacketID); ok {
		ex.Stage = StageReleased
		s.incoming.remove(p.PacketID)
	} else {
		// Our PUBCOMP may have been lost; answering again is harmless.
		s.logger.Debug("PUBREL for unknown packet ID", LogFields{LogFieldPacketID: p.PacketID})
	}

	s.send(now, out, &PubcompPacket{PacketID: p.PacketID})
}

func (s *Session) handlePubcomp(now time.Time, out *Output, p *PubcompPacket) error {
	ex, ok := s.outgoing.get(p.PacketID)
	if !ok {
		return s.violation(now, out, p, p.PacketID, "unknown packet ID", false)
	}
	if ex.QoS != QoS2 || ex.Stage != StageReceived {
		return s.violation(now, out, p, p.PacketID, "PUBCOMP before PUBREC", true)
	}

	ex.Stage = StageCompleted
	s.complete(out, ex)
	return nil
}

// complete removes a finished outgoing exchange and confirms delivery.
func (s *Session) complete(out *Output, ex *OutgoingExchange) {
	s.outgoing.remove(ex.PacketID)
	s.ids.Release(ex.PacketID)
	out.emit(PublishCompleteEvent{
		PacketID: ex.PacketID,
		Topic:    ex.Packet.Topic,
		QoS:      ex.QoS,
	})
}

func (s *Session) handleSuback(now time.Time, out *Output, p *SubackPacket) error {
	pending, ok := s.pendingSubs[p.PacketID]
	if !ok {
		return s.violation(now, out, p, p.PacketID, "no pending SUBSCRIBE", false)
	}

	delete(s.pendingSubs, p.PacketID)
	s.ids.Release(p.PacketID)

	if len(p.ReturnCodes) != len(pending.subscriptions) {
		err := s.violation(now, out, p, p.PacketID, "SUBACK return code count does not match request", false)
		out.emit(SubscribeCompleteEvent{
			PacketID: p.PacketID,
			Err:      &ProtocolViolationError{Packet: PacketSUBACK, PacketID: p.PacketID, Reason: "return code count mismatch"},
		})
		return err
	}

	results := make([]SubscribeResult, len(pending.subscriptions))
	for i, sub := range pending.subscriptions {
		granted, ok := p.Granted(i)
		results[i] = SubscribeResult{
			TopicFilter:  sub.TopicFilter,
			RequestedQoS: sub.QoS,
			GrantedQoS:   granted,
			Failed:       !ok,
		}

		if !ok {
			s.logger.Warn("subscription rejected", LogFields{LogFieldTopic: sub.TopicFilter})
			continue
		}

		s.subscriptions.Set(SubscriptionState{
			TopicFilter:  sub.TopicFilter,
			RequestedQoS: sub.QoS,
			GrantedQoS:   granted,
		})
	}

	out.emit(SubscribeCompleteEvent{PacketID: p.PacketID, Results: results})
	return nil
}

func (s *Session) handleUnsuback(now time.Time, out *Output, p *UnsubackPacket) error {
	pending, ok := s.pendingUnsubs[p.PacketID]
	if !ok {
		return s.violation(now, out, p, p.PacketID, "no pending UNSUBSCRIBE", false)
	}

	delete(s.pendingUnsubs, p.PacketID)
	s.ids.Release(p.PacketID)

	for _, filter := range pending.filters {
		s.subscriptions.Remove(filter)
	}

	out.emit(UnsubscribeCompleteEvent{PacketID: p.PacketID, TopicFilters: pending.filters})
	return nil
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}
