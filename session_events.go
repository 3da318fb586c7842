package mqttv3

// Event is something the application should learn about: a delivered
// message, a completed operation, or a connection state change.
//
// The set of events is closed; switch on the concrete type.
type Event interface {
	isEvent()
}

// ConnectedEvent is emitted when the broker accepts the connection.
type ConnectedEvent struct {
	SessionPresent bool
}

// ConnectionFailedEvent is emitted when a connection attempt ends without
// reaching the connected state. Err is a *ConnectError or ErrConnectTimeout.
type ConnectionFailedEvent struct {
	Err error
}

// DisconnectedEvent is emitted when a connected session ends.
// Err is nil for a clean, user-requested disconnect and a
// *ConnectionLostError otherwise.
type DisconnectedEvent struct {
	Err error
}

// MessageEvent delivers an application message received from the broker.
type MessageEvent struct {
	Message *Message
}

// PublishCompleteEvent confirms delivery of an outgoing message: written for
// QoS 0, PUBACK received for QoS 1, PUBCOMP received for QoS 2.
type PublishCompleteEvent struct {
	PacketID uint16
	Topic    string
	QoS      QoS
}

// SubscribeResult is the broker's answer for one requested filter.
type SubscribeResult struct {
	TopicFilter  string
	RequestedQoS QoS
	GrantedQoS   QoS
	Failed       bool
}

// SubscribeCompleteEvent reports the SUBACK of a subscribe request.
// Err is set when the SUBACK did not match the request.
type SubscribeCompleteEvent struct {
	PacketID uint16
	Results  []SubscribeResult
	Err      error
}

// UnsubscribeCompleteEvent reports the UNSUBACK of an unsubscribe request.
type UnsubscribeCompleteEvent struct {
	PacketID     uint16
	TopicFilters []string
}

// ProtocolViolationEvent surfaces a non-fatal protocol violation. Fatal
// violations are reported through DisconnectedEvent instead.
type ProtocolViolationEvent struct {
	Err *ProtocolViolationError
}

func (ConnectedEvent) isEvent()           {}
func (ConnectionFailedEvent) isEvent()    {}
func (DisconnectedEvent) isEvent()        {}
func (MessageEvent) isEvent()             {}
func (PublishCompleteEvent) isEvent()     {}
func (SubscribeCompleteEvent) isEvent()   {}
func (UnsubscribeCompleteEvent) isEvent() {}
func (ProtocolViolationEvent) isEvent()   {}

// Output is everything produced by one session input: packets to write in
// order, then events to deliver in order.
type Output struct {
	Packets []Packet
	Events  []Event
}

func (o *Output) send(p Packet) {
	o.Packets = append(o.Packets, p)
}

func (o *Output) emit(e Event) {
	o.Events = append(o.Events, e)
}

// merge appends other after o.
func (o *Output) merge(other Output) {
	o.Packets = append(o.Packets, other.Packets...)
	o.Events = append(o.Events, other.Events...)
}
