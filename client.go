package mqttv3

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
)

// Client is an MQTT 3.1.1 client.
//
// One goroutine owns the protocol Session and serialises user requests,
// decoded packets and timer ticks; a reader goroutine per connection feeds
// it packets. Everything the application needs to observe, including
// received messages, arrives on Events, which must be drained.
type Client struct {
	addr    string
	options *clientOptions
	logger  Logger
	metrics *ClientMetrics
	dialer  Dialer

	requests chan request
	inbound  chan inbound
	events   chan Event

	ctx       context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
	closeOnce sync.Once

	connected    atomic.Bool
	reconnecting atomic.Bool
	closed       atomic.Bool
}

type opKind int

const (
	opAttach opKind = iota
	opPublish
	opSubscribe
	opUnsubscribe
	opDisconnect
)

type request struct {
	op      opKind
	conn    Conn
	publish PublishRequest
	subs    []Subscription
	filters []string
	reply   chan opResult
}

type opResult struct {
	results []SubscribeResult
	err     error
}

// inbound is one decoded packet or the error that ended a reader.
type inbound struct {
	gen    uint64
	packet Packet
	size   int
	err    error
}

// Dial connects to the broker at addr and completes the CONNECT handshake.
//
// addr is a URL such as tcp://host:1883, tls://host, ws://host/mqtt,
// quic://host or unix:///path; host:port alone means tcp.
func Dial(addr string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), addr, opts...)
}

// DialContext is Dial with a context bounding the dial and handshake. The
// context does not govern the client's lifetime; use Disconnect or Close.
func DialContext(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	options := applyOptions(opts...)
	if !options.clientIDSet {
		options.clientID = generateClientID()
	}

	c := newClient(addr, options)
	c.start()

	if options.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.connectTimeout)
		defer cancel()
	}

	if err := c.connect(ctx); err != nil {
		c.shutdown()
		return nil, err
	}

	return c, nil
}

func newClient(addr string, options *clientOptions) *Client {
	logger := options.logger.WithFields(LogFields{LogFieldClientID: options.clientID})

	dialer := options.dialer
	if dialer == nil {
		dialer = &URLDialer{
			TLSConfig:            options.tlsConfig,
			Timeout:              options.connectTimeout,
			Proxy:                options.proxy,
			ProxyFromEnvironment: options.proxyFromEnvironment,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		addr:     addr,
		options:  options,
		logger:   logger,
		metrics:  NewClientMetrics(options.metrics),
		dialer:   dialer,
		requests: make(chan request),
		inbound:  make(chan inbound),
		events:   make(chan Event, options.eventBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Client) start() {
	session := NewSession(SessionConfig{
		ClientID:               c.options.clientID,
		CleanSession:           c.options.cleanSession,
		KeepAlive:              c.options.keepAlive,
		Will:                   c.options.will,
		Username:               c.options.username,
		Password:               c.options.password,
		ConnectTimeout:         c.options.connectTimeout,
		RetryInterval:          c.options.retryInterval,
		ResubscribeOnReconnect: c.options.resubscribe,
		Logger:                 c.logger,
	})

	l := &runLoop{
		c:            c,
		session:      session,
		publishes:    make(map[uint16]*pendingPublish),
		subscribes:   make(map[uint16]chan opResult),
		unsubscribes: make(map[uint16]chan opResult),
	}

	c.group.Go(func() error {
		l.run(c.ctx)
		return nil
	})
}

// connect dials a transport and hands it to the run loop for the handshake.
func (c *Client) connect(ctx context.Context) error {
	conn, err := c.dialer.Dial(ctx, c.addr)
	if err != nil {
		return err
	}

	res, err := c.do(ctx, request{op: opAttach, conn: conn})
	if err != nil {
		return err
	}
	return res.err
}

// do submits req to the run loop and waits for its reply. A request whose
// context ends after submission still runs to completion.
func (c *Client) do(ctx context.Context, req request) (opResult, error) {
	if c.closed.Load() {
		if req.conn != nil {
			req.conn.Close()
		}
		return opResult{}, ErrClientClosed
	}

	req.reply = make(chan opResult, 1)

	select {
	case c.requests <- req:
	case <-ctx.Done():
		if req.conn != nil {
			req.conn.Close()
		}
		return opResult{}, ctx.Err()
	case <-c.ctx.Done():
		if req.conn != nil {
			req.conn.Close()
		}
		return opResult{}, ErrClientClosed
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	case <-c.ctx.Done():
		return opResult{}, ErrClientClosed
	}
}

// Events returns the channel of session events. It is closed once the
// client has shut down. The run loop blocks while the channel is full, so
// the application must keep reading it.
func (c *Client) Events() <-chan Event {
	return c.events
}

// ClientID returns the identifier sent in CONNECT.
func (c *Client) ClientID() string {
	return c.options.clientID
}

// IsConnected reports whether the broker has accepted the current connection.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && !c.closed.Load()
}

// Publish sends a message. It returns once a QoS 0 message is written, a
// QoS 1 message is acknowledged with PUBACK, or a QoS 2 message completes
// with PUBCOMP. If ctx ends first the exchange continues in the background.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos QoS, retain bool) error {
	if limiter := c.options.publishLimit; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	res, err := c.do(ctx, request{
		op: opPublish,
		publish: PublishRequest{
			Topic:   topic,
			Payload: payload,
			QoS:     qos,
			Retain:  retain,
		},
	})
	if err != nil {
		return err
	}
	return res.err
}

// Subscribe requests subscriptions and returns the broker's answer for each
// filter in request order. It fails with ErrSubscribeFailed when every
// filter was rejected.
func (c *Client) Subscribe(ctx context.Context, subs ...Subscription) ([]SubscribeResult, error) {
	res, err := c.do(ctx, request{op: opSubscribe, subs: subs})
	if err != nil {
		return nil, err
	}
	return res.results, res.err
}

// Unsubscribe removes subscriptions and waits for UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) error {
	res, err := c.do(ctx, request{op: opUnsubscribe, filters: filters})
	if err != nil {
		return err
	}
	return res.err
}

// Disconnect sends DISCONNECT, closes the connection and shuts the client
// down. Operations still waiting fail with ErrDisconnected.
func (c *Client) Disconnect(ctx context.Context) error {
	res, err := c.do(ctx, request{op: opDisconnect})
	c.shutdown()
	if err != nil {
		return err
	}
	return res.err
}

// Close disconnects if connected and releases all resources. It is safe to
// call more than once.
func (c *Client) Close() error {
	if c.closed.Load() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := c.Disconnect(ctx)
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClientClosed) {
		return nil
	}
	return err
}

// shutdown stops every goroutine and closes the event channel.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		_ = c.group.Wait()
		c.connected.Store(false)
		close(c.events)
	})
}

// emit delivers an event unless the client is shutting down.
func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.ctx.Done():
	}
}

// readLoop decodes packets from conn until it fails or stop is closed.
func (c *Client) readLoop(conn Conn, gen uint64, stop <-chan struct{}) {
	dec := NewDecoder(c.options.maxPacketSize)
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			_, _ = dec.Write(buf[:n])

			for {
				before := dec.Buffered()
				pkt, derr := dec.Decode()
				if errors.Is(derr, ErrIncomplete) {
					break
				}

				in := inbound{gen: gen, packet: pkt, size: before - dec.Buffered(), err: derr}
				if !c.forward(in, stop) || derr != nil {
					return
				}
			}
		}

		if err != nil {
			c.forward(inbound{gen: gen, err: err}, stop)
			return
		}
	}
}

func (c *Client) forward(in inbound, stop <-chan struct{}) bool {
	select {
	case c.inbound <- in:
		return true
	case <-stop:
		return false
	case <-c.ctx.Done():
		return false
	}
}

// startReconnect launches the reconnect loop unless one is running.
func (c *Client) startReconnect() {
	if !c.options.autoReconnect || c.closed.Load() {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	c.group.Go(func() error {
		defer c.reconnecting.Store(false)
		c.reconnectLoop(c.ctx)
		return nil
	})
}

func (c *Client) reconnectLoop(ctx context.Context) {
	var (
		backoff time.Duration
		lastErr error
	)

	for attempt := 1; ; attempt++ {
		if c.options.maxReconnects >= 0 && attempt > c.options.maxReconnects {
			c.logger.Error("giving up reconnecting", LogFields{
				LogFieldAttempt: attempt - 1,
				LogFieldError:   ErrReconnectFailed,
			})
			return
		}

		backoff = c.options.nextBackoff(attempt, backoff, lastErr)
		c.logger.Info("reconnecting", LogFields{LogFieldAttempt: attempt, LogFieldDuration: backoff})

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		connectCtx := ctx
		cancel := func() {}
		if c.options.connectTimeout > 0 {
			connectCtx, cancel = context.WithTimeout(ctx, c.options.connectTimeout)
		}
		lastErr = c.connect(connectCtx)
		cancel()

		if lastErr == nil {
			return
		}
		if errors.Is(lastErr, ErrClientClosed) || errors.Is(lastErr, ErrAlreadyConnected) {
			return
		}

		c.logger.Warn("reconnect failed", LogFields{LogFieldAttempt: attempt, LogFieldError: lastErr})
	}
}

func generateClientID() string {
	return xid.New().String()
}

type pendingPublish struct {
	reply   chan opResult
	started time.Time
}

// runLoop is the state owned by the run goroutine.
type runLoop struct {
	c       *Client
	session *Session

	conn     Conn
	gen      uint64
	connStop chan struct{}

	connectReply chan opResult
	publishes    map[uint16]*pendingPublish
	subscribes   map[uint16]chan opResult
	unsubscribes map[uint16]chan opResult

	closing       bool
	lostConnected bool
}

func (l *runLoop) run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		l.schedule(timer)

		select {
		case <-ctx.Done():
			l.drop(ErrClientClosed)
			return
		case req := <-l.c.requests:
			l.handleRequest(req)
		case in := <-l.c.inbound:
			l.handleInbound(in)
		case <-timer.C:
			l.handleTick()
		}

		outgoing, incoming := l.session.InflightCount()
		l.c.metrics.Inflight(outgoing, incoming)
	}
}

// schedule arms timer for the session's next deadline.
func (l *runLoop) schedule(timer *time.Timer) {
	deadline := l.session.Deadline()
	if deadline.IsZero() {
		timer.Stop()
		return
	}
	timer.Reset(max(time.Until(deadline), 0))
}

func (l *runLoop) handleRequest(req request) {
	now := time.Now()

	switch req.op {
	case opAttach:
		l.attach(now, req)

	case opPublish:
		out, id, err := l.session.Publish(now, req.publish)
		if err != nil {
			req.reply <- opResult{err: err}
			return
		}
		if err := l.send(out); err != nil {
			req.reply <- opResult{err: &ConnectionLostError{Cause: err}}
			l.drop(err)
			return
		}
		if id == 0 {
			req.reply <- opResult{}
		} else {
			l.publishes[id] = &pendingPublish{reply: req.reply, started: now}
		}
		l.deliver(out)

	case opSubscribe:
		out, id, err := l.session.Subscribe(now, req.subs)
		if err != nil {
			req.reply <- opResult{err: err}
			return
		}
		if err := l.send(out); err != nil {
			req.reply <- opResult{err: &ConnectionLostError{Cause: err}}
			l.drop(err)
			return
		}
		l.subscribes[id] = req.reply

	case opUnsubscribe:
		out, id, err := l.session.Unsubscribe(now, req.filters)
		if err != nil {
			req.reply <- opResult{err: err}
			return
		}
		if err := l.send(out); err != nil {
			req.reply <- opResult{err: &ConnectionLostError{Cause: err}}
			l.drop(err)
			return
		}
		l.unsubscribes[id] = req.reply

	case opDisconnect:
		l.closing = true

		out, err := l.session.Disconnect(now)
		if err != nil {
			l.drop(ErrDisconnected)
			req.reply <- opResult{err: err}
			return
		}

		werr := l.send(out)
		l.deliver(out)
		l.drop(ErrDisconnected)
		l.c.logger.Info("disconnected", nil)
		req.reply <- opResult{err: werr}
	}
}

// attach starts the handshake on a freshly dialed connection.
func (l *runLoop) attach(now time.Time, req request) {
	if l.closing {
		req.conn.Close()
		req.reply <- opResult{err: ErrClientClosed}
		return
	}

	out, err := l.session.Connect(now)
	if err != nil {
		req.conn.Close()
		req.reply <- opResult{err: err}
		return
	}

	l.gen++
	l.conn = req.conn
	l.connStop = make(chan struct{})
	l.connectReply = req.reply

	conn, gen, stop := l.conn, l.gen, l.connStop
	l.c.group.Go(func() error {
		l.c.readLoop(conn, gen, stop)
		return nil
	})

	l.c.logger.Debug("connecting", LogFields{LogFieldRemoteAddr: conn.RemoteAddr().String()})
	l.apply(out)
}

func (l *runLoop) handleInbound(in inbound) {
	if in.gen != l.gen || l.conn == nil {
		return
	}

	if in.err != nil {
		if errors.Is(in.err, ErrMalformedPacket) {
			l.c.logger.Error("malformed packet", LogFields{LogFieldError: in.err})
		}
		l.drop(in.err)
		return
	}

	l.c.metrics.PacketReceived(in.packet.Type(), in.size)
	l.c.logger.Debug("packet received", LogFields{LogFieldPacketType: in.packet.Type().String()})

	out, err := l.session.HandlePacket(time.Now(), in.packet)
	l.apply(out)
	if err != nil {
		l.c.metrics.ProtocolViolation(true)
		l.drop(err)
		return
	}
	l.settle()
}

func (l *runLoop) handleTick() {
	out, err := l.session.Tick(time.Now())
	l.apply(out)
	if err != nil {
		l.drop(err)
		return
	}
	l.settle()
}

// settle closes a transport the session has already given up on, such as
// after a refused CONNACK.
func (l *runLoop) settle() {
	if l.conn != nil && l.session.State() == StateDisconnected {
		l.drop(ErrConnectionLost)
	}
}

// apply writes out's packets, delivers its events and tears the connection
// down if a write failed.
func (l *runLoop) apply(out Output) {
	err := l.send(out)
	l.deliver(out)
	if err != nil {
		l.drop(err)
	}
}

func (l *runLoop) send(out Output) error {
	for _, p := range out.Packets {
		if err := l.write(p); err != nil {
			return err
		}
	}
	return nil
}

func (l *runLoop) write(p Packet) error {
	if l.conn == nil {
		return ErrNotConnected
	}

	data, err := EncodePacket(p)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.Type(), err)
	}

	if timeout := l.c.options.writeTimeout; timeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	if _, err := l.conn.Write(data); err != nil {
		return err
	}

	l.c.metrics.PacketSent(p.Type(), len(data))
	return nil
}

func (l *runLoop) deliver(out Output) {
	for _, e := range out.Events {
		l.dispatch(e)
		l.c.emit(e)
	}
}

// dispatch resolves the waiters an event completes.
func (l *runLoop) dispatch(e Event) {
	switch ev := e.(type) {
	case ConnectedEvent:
		l.c.connected.Store(true)
		l.c.metrics.Connected()
		l.c.logger.Info("connected", LogFields{"session_present": ev.SessionPresent})
		l.resolveConnect(nil)

	case ConnectionFailedEvent:
		l.c.metrics.ConnectFailed()
		l.resolveConnect(ev.Err)

	case DisconnectedEvent:
		l.c.connected.Store(false)
		l.c.metrics.Disconnected()
		if ev.Err != nil {
			l.lostConnected = true
			l.c.logger.Warn("connection lost", LogFields{LogFieldError: ev.Err})
		}

	case PublishCompleteEvent:
		var latency time.Duration
		if w, ok := l.publishes[ev.PacketID]; ok && ev.PacketID != 0 {
			delete(l.publishes, ev.PacketID)
			latency = time.Since(w.started)
			w.reply <- opResult{}
		}
		l.c.metrics.MessagePublished(ev.QoS, latency)

	case SubscribeCompleteEvent:
		if reply, ok := l.subscribes[ev.PacketID]; ok {
			delete(l.subscribes, ev.PacketID)
			reply <- opResult{results: ev.Results, err: subscribeError(ev)}
		}

	case UnsubscribeCompleteEvent:
		if reply, ok := l.unsubscribes[ev.PacketID]; ok {
			delete(l.unsubscribes, ev.PacketID)
			reply <- opResult{}
		}

	case MessageEvent:
		l.c.metrics.MessageDelivered(ev.Message.QoS)

	case ProtocolViolationEvent:
		l.c.metrics.ProtocolViolation(false)
	}
}

func subscribeError(ev SubscribeCompleteEvent) error {
	if ev.Err != nil {
		return ev.Err
	}
	for _, r := range ev.Results {
		if !r.Failed {
			return nil
		}
	}
	return ErrSubscribeFailed
}

func (l *runLoop) resolveConnect(err error) {
	if l.connectReply == nil {
		return
	}
	l.connectReply <- opResult{err: err}
	l.connectReply = nil
}

// drop closes the transport, moves the session to disconnected and fails
// every waiter. cause is ErrDisconnected after a clean disconnect.
func (l *runLoop) drop(cause error) {
	if l.conn != nil {
		close(l.connStop)
		_ = l.conn.Close()
		l.conn = nil
		l.gen++
	}

	if l.session.State() != StateDisconnected {
		l.deliver(l.session.ConnectionLost(time.Now(), cause))
	}

	waiterErr := cause
	if !errors.Is(cause, ErrDisconnected) && !errors.Is(cause, ErrClientClosed) {
		waiterErr = &ConnectionLostError{Cause: cause}
	}

	l.resolveConnect(waiterErr)
	for id, w := range l.publishes {
		w.reply <- opResult{err: waiterErr}
		delete(l.publishes, id)
	}
	for id, reply := range l.subscribes {
		reply <- opResult{err: waiterErr}
		delete(l.subscribes, id)
	}
	for id, reply := range l.unsubscribes {
		reply <- opResult{err: waiterErr}
		delete(l.unsubscribes, id)
	}

	if l.lostConnected {
		l.lostConnected = false
		if !l.closing {
			l.c.startReconnect()
		}
	}
}
