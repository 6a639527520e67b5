package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roomwire-dev/roomwire/pkg/protocol"
	"github.com/roomwire-dev/roomwire/pkg/serializer"
	"github.com/roomwire-dev/roomwire/pkg/transport"
)

// Session is the identity negotiated at join time: unset until the join
// frame is processed, immutable for the connection's lifetime afterwards.
type Session struct {
	ID         string
	Serializer string
}

// JoinRefusedError carries the server's join rejection message.
type JoinRefusedError struct {
	Message string
}

func (e *JoinRefusedError) Error() string {
	return e.Message
}

// Room is a client endpoint for one remote room. All frame handling,
// strategy invocation and signal dispatch run synchronously on the goroutine
// that delivers transport callbacks, so there is never more than one
// in-flight frame per Room. The mutex guards the lifecycle and session
// fields, which Send, Leave and the accessors may touch from other
// goroutines while frames are being processed.
type Room struct {
	name    string
	options map[string]any

	logger   *slog.Logger
	registry *serializer.Registry
	monitors multiMonitor
	monitor  Monitor

	mu        sync.Mutex
	id        string
	conn      transport.Connection
	connected bool
	leaving   bool
	finished  bool

	session      Session
	joined       bool
	strategy     serializer.Serializer
	preBound     serializer.Serializer
	preName      string
	deltaApplier serializer.DeltaApplier

	disp dispatcher

	joinSig  Signal[struct{}]
	stateSig Signal[any]
	msgSig   Signal[any]
	errSig   Signal[error]
	leftSig  Signal[string]
}

// Option configures a Room.
type Option func(*Room)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Room) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistry replaces the serializer registry.
func WithRegistry(reg *serializer.Registry) Option {
	return func(r *Room) {
		if reg != nil {
			r.registry = reg
		}
	}
}

// WithMonitor adds a pipeline monitor. May be given more than once.
func WithMonitor(m Monitor) Option {
	return func(r *Room) {
		if m != nil {
			r.monitors = append(r.monitors, m)
		}
	}
}

// WithID sets the room id when it is already known at construction.
func WithID(id string) Option {
	return func(r *Room) {
		r.id = id
	}
}

// WithJoinOptions attaches the opaque join options map.
func WithJoinOptions(options map[string]any) Option {
	return func(r *Room) {
		r.options = options
	}
}

// WithSchemaDecoder pre-binds a schema strategy built around the caller's
// known state schema. The join handshake keeps this instance and uses the
// registry lookup only for validation.
func WithSchemaDecoder(dec serializer.SchemaDecoder) Option {
	return func(r *Room) {
		r.preBound = serializer.NewSchema(dec)
		r.preName = serializer.NameSchema
	}
}

// WithDeltaApplier wires an incremental delta implementation into the
// fossil-delta strategy resolved at join time.
func WithDeltaApplier(apply serializer.DeltaApplier) Option {
	return func(r *Room) {
		r.deltaApplier = apply
	}
}

// NewRoom creates a room client for the named room. The returned room is
// not connected; see Connect. A pre-bound strategy whose name is missing
// from the registry is a construction-time error, not a join-time surprise.
func NewRoom(name string, opts ...Option) (*Room, error) {
	r := &Room{
		name:     name,
		logger:   slog.Default(),
		registry: serializer.DefaultRegistry(),
	}
	r.disp.room = r
	for _, opt := range opts {
		opt(r)
	}

	// Registered after the option loop so a later WithRegistry cannot
	// discard the applier.
	if r.deltaApplier != nil {
		apply := r.deltaApplier
		r.registry.Register(serializer.NameFossilDelta, func() serializer.Serializer {
			return serializer.NewFossilDelta(apply)
		})
	}

	if r.preName != "" && !r.registry.Has(r.preName) {
		return nil, &serializer.UnknownSerializerError{Name: r.preName}
	}

	if len(r.monitors) == 0 {
		r.monitor = NopMonitor{}
	} else {
		r.monitor = r.monitors
	}
	return r, nil
}

// Name returns the room name given at construction.
func (r *Room) Name() string {
	return r.name
}

// ID returns the room id, empty until assigned.
func (r *Room) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// AssignID records the room id once it is known. The id is set once for the
// object's life.
func (r *Room) AssignID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.id != "" {
		return ErrIDAssigned
	}
	r.id = id
	return nil
}

// Options returns the opaque join options map.
func (r *Room) Options() map[string]any {
	return r.options
}

// SessionID returns the negotiated session id, empty before join.
func (r *Room) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.ID
}

// SerializerName returns the negotiated serializer name, empty before join.
func (r *Room) SerializerName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Serializer
}

// HasJoined reports whether a session id has been assigned.
func (r *Room) HasJoined() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined
}

// State returns the canonical state owned by the bound strategy. Before a
// join has bound a strategy there is no state to guess at, so the read
// fails with ErrNoSerializer instead of returning a default-initialized
// value.
func (r *Room) State() (any, error) {
	r.mu.Lock()
	strat := r.strategy
	r.mu.Unlock()
	if strat == nil {
		return nil, ErrNoSerializer
	}
	return strat.State(), nil
}

// OnJoin registers fn for the join-succeeded event.
func (r *Room) OnJoin(fn func()) (cancel func()) {
	return r.joinSig.Subscribe(func(struct{}) { fn() })
}

// OnStateChange registers fn for state-changed events. fn observes the
// post-mutation canonical state.
func (r *Room) OnStateChange(fn func(state any)) (cancel func()) {
	return r.stateSig.Subscribe(fn)
}

// OnMessage registers fn for decoded inbound messages.
func (r *Room) OnMessage(fn func(message any)) (cancel func()) {
	return r.msgSig.Subscribe(fn)
}

// OnError registers fn for error events.
func (r *Room) OnError(fn func(err error)) (cancel func()) {
	return r.errSig.Subscribe(fn)
}

// OnLeave registers fn for the left event. reason may be empty.
func (r *Room) OnLeave(fn func(reason string)) (cancel func()) {
	return r.leftSig.Subscribe(fn)
}

// Connect wires the room to conn and opens it. The transport owns
// reconnection policy; the room never redials on its own.
func (r *Room) Connect(ctx context.Context, conn transport.Connection) error {
	r.mu.Lock()
	if r.connected {
		r.mu.Unlock()
		return errors.New("room: already connected")
	}
	r.conn = conn
	r.finished = false
	r.leaving = false
	r.mu.Unlock()
	r.disp.reset()

	conn.Bind(transport.Callbacks{
		OnMessage: r.disp.dispatch,
		OnClose:   r.handleClose,
		OnError:   r.handleTransportError,
	})
	if err := conn.Open(ctx); err != nil {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		return err
	}
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	return nil
}

// Send encodes payload and transmits it as a data frame. There is no
// delivery confirmation. Calling Send before any connection exists is a
// precondition violation and returns ErrNotConnected.
func (r *Room) Send(payload any) error {
	encoded, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("room: encode payload: %w", err)
	}
	return r.SendBytes(encoded)
}

// SendBytes transmits an already-encoded payload as a data frame.
func (r *Room) SendBytes(encoded []byte) error {
	r.mu.Lock()
	conn := r.conn
	id := r.id
	ok := conn != nil && r.connected && !r.leaving
	r.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return conn.Send(protocol.EncodeData(id, encoded))
}

// Leave leaves the room. With consented true and an open connection it
// sends exactly one leave frame and waits for the server to close the
// transport; with consented false it closes the transport immediately
// without notifying the server. If no connection exists the left event
// fires synchronously. Either way, once the leave completes every
// subscriber registration in every category is cleared and the strategy is
// torn down.
func (r *Room) Leave(consented bool) error {
	r.mu.Lock()
	conn := r.conn
	if conn == nil || !r.connected {
		r.mu.Unlock()
		r.finish("")
		return nil
	}
	if !consented {
		r.mu.Unlock()
		return conn.Close()
	}
	if r.leaving {
		r.mu.Unlock()
		return nil
	}
	r.leaving = true
	r.mu.Unlock()

	if err := conn.Send(protocol.EncodeLeave()); err != nil {
		// The frame never made it out; fall back to closing outright.
		return conn.Close()
	}
	return nil
}

// handleJoin processes a join confirmation: resolve the strategy, feed its
// handshake bytes, record the session.
func (r *Room) handleJoin(frame []byte) {
	join, err := protocol.ParseJoin(frame)
	if err != nil {
		r.decodeError(protocol.JoinRoom, fmt.Errorf("%w: %v", ErrDecode, err))
		return
	}

	r.mu.Lock()
	joined := r.joined
	r.mu.Unlock()
	if joined {
		// The session is immutable for the connection's lifetime; a second
		// join frame must not overwrite it.
		r.protocolWarning(fmt.Errorf("%w: join frame after session established", ErrProtocol))
		return
	}

	var strat serializer.Serializer
	if r.preBound != nil && join.Serializer == r.preName {
		// Pre-bound strategy is kept; the registry only validates the name.
		if !r.registry.Has(join.Serializer) {
			r.emitError(&serializer.UnknownSerializerError{Name: join.Serializer})
			return
		}
		strat = r.preBound
	} else {
		strat, err = r.registry.New(join.Serializer)
		if err != nil {
			// Fatal for the join attempt: no session is established.
			r.emitError(err)
			return
		}
	}

	// At most one strategy is active; swapping runs the prior teardown.
	r.mu.Lock()
	prior := r.strategy
	r.strategy = strat
	r.mu.Unlock()
	if prior != nil && prior != strat {
		prior.Teardown()
	}

	if len(join.Handshake) > 0 {
		if err := strat.Handshake(join.Handshake); err != nil {
			strat.Teardown()
			r.mu.Lock()
			r.strategy = nil
			r.mu.Unlock()
			if strat == r.preBound {
				// Torn down; a retried join resolves a fresh instance from
				// the registry instead of rebinding this one.
				r.preBound = nil
				r.preName = ""
			}
			r.emitError(fmt.Errorf("room: serializer handshake: %w", err))
			return
		}
	}

	r.mu.Lock()
	r.session = Session{ID: join.SessionID, Serializer: join.Serializer}
	r.joined = true
	r.mu.Unlock()
	r.logger.Info("joined room", "room", r.name, "session", join.SessionID, "serializer", join.Serializer)
	r.monitor.Joined(join.Serializer)
	r.joinSig.Emit(struct{}{})
}

func (r *Room) handleJoinError(frame []byte) {
	msg, err := protocol.ParseJoinError(frame)
	if err != nil {
		r.decodeError(protocol.JoinError, fmt.Errorf("%w: %v", ErrDecode, err))
		return
	}
	r.logger.Warn("join rejected", "room", r.name, "message", msg)
	r.emitError(&JoinRefusedError{Message: msg})
}

// handleLeaveFrame processes a server-initiated leave, which is an
// immediate consented leave even before any join completed.
func (r *Room) handleLeaveFrame() {
	r.logger.Info("leave frame received", "room", r.name)
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
		return
	}
	r.finish("")
}

// handlePayload processes the payload half of a two-frame exchange.
func (r *Room) handlePayload(op protocol.Opcode, payload []byte) {
	r.mu.Lock()
	strat := r.strategy
	r.mu.Unlock()

	switch op {
	case protocol.RoomState:
		if strat == nil {
			r.protocolWarning(fmt.Errorf("%w: state snapshot before join completed", ErrProtocol))
			return
		}
		if err := strat.SetState(payload); err != nil {
			r.emitError(err)
			return
		}
		r.monitor.StateApplied(op, len(payload))
		r.stateSig.Emit(strat.State())

	case protocol.RoomStatePatch:
		if strat == nil {
			r.protocolWarning(fmt.Errorf("%w: state patch before join completed", ErrProtocol))
			return
		}
		if err := strat.Patch(payload); err != nil {
			// Canonical state stays at its last committed value.
			r.emitError(err)
			return
		}
		r.monitor.StateApplied(op, len(payload))
		r.stateSig.Emit(strat.State())

	case protocol.RoomData:
		var msg any
		if err := msgpack.Unmarshal(payload, &msg); err != nil {
			r.decodeError(op, fmt.Errorf("%w: message payload: %v", ErrDecode, err))
			return
		}
		r.monitor.MessageReceived(len(payload))
		r.msgSig.Emit(msg)
	}
}

func (r *Room) handleTransportError(err error) {
	r.emitError(err)
}

func (r *Room) handleClose(reason string) {
	r.finish(reason)
}

// finish completes a leave: the left event fires, then everything is reset
// wholesale. Subscribers registered in any category receive no callbacks
// after this, even if the transport later delivers stray frames.
func (r *Room) finish(reason string) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.connected = false
	r.joined = false
	r.leaving = false
	strat := r.strategy
	r.mu.Unlock()

	r.logger.Info("left room", "room", r.name, "reason", reason)
	r.monitor.Left(reason)
	r.leftSig.Emit(reason)

	r.joinSig.Clear()
	r.stateSig.Clear()
	r.msgSig.Clear()
	r.errSig.Clear()
	r.leftSig.Clear()

	if strat != nil {
		strat.Teardown()
	}
}

func (r *Room) decodeError(op protocol.Opcode, err error) {
	r.logger.Error("frame dropped", "room", r.name, "opcode", op.String(), "error", err)
	r.monitor.DecodeError(op, err)
	r.errSig.Emit(err)
}

func (r *Room) protocolWarning(err error) {
	r.logger.Warn("protocol warning", "room", r.name, "error", err)
	r.monitor.ProtocolError(err)
	r.errSig.Emit(err)
}

func (r *Room) emitError(err error) {
	r.logger.Error("room error", "room", r.name, "error", err)
	r.errSig.Emit(err)
}
