package room

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roomwire-dev/roomwire/pkg/protocol"
	"github.com/roomwire-dev/roomwire/pkg/serializer"
	"github.com/roomwire-dev/roomwire/pkg/transport"
)

// fakeConn is an in-memory transport.Connection. deliver pushes a frame
// through the bound callbacks the way a real transport's reader would. Its
// mutex mirrors a real transport's write serialization so tests may drive
// Send and deliver from different goroutines.
type fakeConn struct {
	cb transport.Callbacks

	mu     sync.Mutex
	sent   [][]byte
	opened bool
	closed bool
}

func (f *fakeConn) Bind(cb transport.Callbacks) { f.cb = cb }

func (f *fakeConn) Open(ctx context.Context) error {
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	if f.cb.OnOpen != nil {
		f.cb.OnOpen()
	}
	return nil
}

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	if f.cb.OnClose != nil {
		f.cb.OnClose("")
	}
	return nil
}

func (f *fakeConn) deliver(frame []byte) {
	f.cb.OnMessage(frame)
}

// fakeStrategy records every strategy invocation.
type fakeStrategy struct {
	handshakes [][]byte
	snapshots  [][]byte
	patches    [][]byte
	teardowns  int
	state      any
	patchErr   error
}

func (f *fakeStrategy) Handshake(data []byte) error {
	f.handshakes = append(f.handshakes, data)
	return nil
}

func (f *fakeStrategy) SetState(encoded []byte) error {
	f.snapshots = append(f.snapshots, append([]byte(nil), encoded...))
	f.state = encoded
	return nil
}

func (f *fakeStrategy) Patch(encoded []byte) error {
	if f.patchErr != nil {
		return f.patchErr
	}
	f.patches = append(f.patches, append([]byte(nil), encoded...))
	f.state = encoded
	return nil
}

func (f *fakeStrategy) State() any { return f.state }
func (f *fakeStrategy) Teardown() { f.teardowns++ }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRoom returns a connected room whose "test" serializer resolves to
// the returned fake strategy.
func newTestRoom(t *testing.T, opts ...Option) (*Room, *fakeConn, *fakeStrategy) {
	t.Helper()

	strat := &fakeStrategy{}
	reg := serializer.DefaultRegistry()
	reg.Register("test", func() serializer.Serializer { return strat })

	opts = append([]Option{WithLogger(quietLogger()), WithRegistry(reg)}, opts...)
	r, err := NewRoom("battle", opts...)
	if err != nil {
		t.Fatalf("NewRoom() error = %v", err)
	}

	conn := &fakeConn{}
	if err := r.Connect(context.Background(), conn); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return r, conn, strat
}

func TestRoom_JoinSuccess(t *testing.T) {
	r, conn, _ := newTestRoom(t)

	joins := 0
	r.OnJoin(func() { joins++ })

	conn.deliver(protocol.EncodeJoin("sid1", "fossil-delta", nil))

	if joins != 1 {
		t.Errorf("join events = %d, want 1", joins)
	}
	if !r.HasJoined() {
		t.Error("HasJoined() = false, want true")
	}
	if r.SessionID() != "sid1" {
		t.Errorf("SessionID() = %q, want %q", r.SessionID(), "sid1")
	}
	if r.SerializerName() != "fossil-delta" {
		t.Errorf("SerializerName() = %q, want %q", r.SerializerName(), "fossil-delta")
	}
}

func TestRoom_JoinUnknownSerializer(t *testing.T) {
	r, conn, _ := newTestRoom(t)

	var got error
	r.OnError(func(err error) { got = err })

	conn.deliver(protocol.EncodeJoin("sid1", "xyz", nil))

	var unknown *serializer.UnknownSerializerError
	if !errors.As(got, &unknown) {
		t.Fatalf("error event = %v, want *UnknownSerializerError", got)
	}
	if r.HasJoined() {
		t.Error("HasJoined() = true after failed join, want false")
	}
	if _, err := r.State(); !errors.Is(err, ErrNoSerializer) {
		t.Errorf("State() error = %v, want ErrNoSerializer", err)
	}
}

func TestRoom_JoinRefused(t *testing.T) {
	r, conn, _ := newTestRoom(t)

	var got error
	r.OnError(func(err error) { got = err })

	conn.deliver(protocol.EncodeJoinError("room full"))

	var refused *JoinRefusedError
	if !errors.As(got, &refused) {
		t.Fatalf("error event = %v, want *JoinRefusedError", got)
	}
	if refused.Error() != "room full" {
		t.Errorf("error payload = %q, want %q", refused.Error(), "room full")
	}
	if r.HasJoined() {
		t.Error("HasJoined() = true after join error, want false")
	}
}

func TestRoom_JoinHandshakePassthrough(t *testing.T) {
	_, conn, strat := newTestRoom(t)

	conn.deliver(protocol.EncodeJoin("sid1", "test", []byte{0xAA, 0xBB}))

	if len(strat.handshakes) != 1 {
		t.Fatalf("handshake calls = %d, want 1", len(strat.handshakes))
	}
	if string(strat.handshakes[0]) != "\xaa\xbb" {
		t.Errorf("handshake payload = %v, want [0xAA 0xBB]", strat.handshakes[0])
	}
}

func TestRoom_StateSnapshotTwoFrame(t *testing.T) {
	r, conn, strat := newTestRoom(t)
	conn.deliver(protocol.EncodeJoin("sid1", "test", nil))

	var changes []any
	r.OnStateChange(func(state any) { changes = append(changes, state) })

	payload := []byte{0x01, 0x02, 0x03}
	conn.deliver(protocol.EncodeOpcodeOnly(protocol.RoomState))
	conn.deliver(payload)

	if len(strat.snapshots) != 1 {
		t.Fatalf("SetState calls = %d, want 1", len(strat.snapshots))
	}
	if string(strat.snapshots[0]) != string(payload) {
		t.Errorf("SetState payload = %v, want %v", strat.snapshots[0], payload)
	}
	if len(changes) != 1 {
		t.Fatalf("state-changed events = %d, want 1", len(changes))
	}
	if string(changes[0].([]byte)) != string(payload) {
		t.Error("state-changed payload does not observe post-mutation state")
	}
}

func TestRoom_SnapshotThenPatchesInOrder(t *testing.T) {
	r, conn, strat := newTestRoom(t)
	conn.deliver(protocol.EncodeJoin("sid1", "test", nil))

	events := 0
	r.OnStateChange(func(any) { events++ })

	conn.deliver(protocol.EncodeOpcodeOnly(protocol.RoomState))
	conn.deliver([]byte{0x01})
	conn.deliver(protocol.EncodeOpcodeOnly(protocol.RoomStatePatch))
	conn.deliver([]byte{0x02})
	conn.deliver(protocol.EncodeOpcodeOnly(protocol.RoomStatePatch))
	conn.deliver([]byte{0x03})

	if len(strat.snapshots) != 1 || len(strat.patches) != 2 {
		t.Fatalf("snapshots = %d, patches = %d, want 1 and 2", len(strat.snapshots), len(strat.patches))
	}
	if strat.patches[0][0] != 0x02 || strat.patches[1][0] != 0x03 {
		t.Error("patches applied out of arrival order")
	}
	if events != 3 {
		t.Errorf("state-changed events = %d, want 3", events)
	}
}

func TestRoom_FailedPatchKeepsStateAndFiresError(t *testing.T) {
	r, conn, strat := newTestRoom(t)
	conn.deliver(protocol.EncodeJoin("sid1", "test", nil))
	conn.deliver(protocol.EncodeOpcodeOnly(protocol.RoomState))
	conn.deliver([]byte{0x01})

	strat.patchErr = &serializer.InvalidPatchError{Strategy: "test", Reason: "corrupt"}

	changes := 0
	var got error
	r.OnStateChange(func(any) { changes++ })
	r.OnError(func(err error) { got = err })

	conn.deliver(protocol.EncodeOpcodeOnly(protocol.RoomStatePatch))
	conn.deliver([]byte{0xFF})

	var invalid *serializer.InvalidPatchError
	if !errors.As(got, &invalid) {
		t.Fatalf("error event = %v, want *InvalidPatchError", got)
	}
	if changes != 0 {
		t.Errorf("state-changed events after failed patch = %d, want 0", changes)
	}
	state, err := r.State()
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if string(state.([]byte)) != "\x01" {
		t.Error("canonical state changed after failed patch")
	}
}

func TestRoom_MessageReceived(t *testing.T) {
	r, conn, _ := newTestRoom(t)
	conn.deliver(protocol.EncodeJoin("sid1", "test", nil))

	var got any
	r.OnMessage(func(message any) { got = message })

	payload, err := msgpack.Marshal(map[string]any{"kind": "chat", "text": "hello"})
	if err != nil {
		t.Fatalf("msgpack.Marshal() error = %v", err)
	}
	conn.deliver(protocol.EncodeOpcodeOnly(protocol.RoomData))
	conn.deliver(payload)

	msg, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("message event = %T, want map", got)
	}
	if msg["text"] != "hello" {
		t.Errorf("message text = %v, want %q", msg["text"], "hello")
	}
}

func TestRoom_StrayFrameNoPendingOpcode(t *testing.T) {
	r, conn, strat := newTestRoom(t)
	conn.deliver(protocol.EncodeJoin("sid1", "test", nil))

	changes := 0
	var got error
	r.OnStateChange(func(any) { changes++ })
	r.OnError(func(err error) { got = err })

	// First byte is no recognized opcode: with nothing pending this can
	// only be a stray payload or garbage. Either way it must not touch
	// state.
	conn.deliver([]byte{0xF0, 0x01, 0x02})

	if !errors.Is(got, ErrProtocol) {
		t.Errorf("error event = %v, want ErrProtocol", got)
	}
	if changes != 0 {
		t.Errorf("state-changed events = %d, want 0", changes)
	}
	if len(strat.snapshots) != 0 || len(strat.patches) != 0 {
		t.Error("stray frame mutated state")
	}
}

func TestRoom_EmptyFrame(t *testing.T) {
	r, conn, _ := newTestRoom(t)

	var got error
	r.OnError(func(err error) { got = err })

	conn.deliver(nil)

	if !errors.Is(got, ErrDecode) {
		t.Errorf("error event = %v, want ErrDecode", got)
	}
}

func TestRoom_LeaveConsented(t *testing.T) {
	r, conn, strat := newTestRoom(t)
	conn.deliver(protocol.EncodeJoin("sid1", "test", nil))

	left := 0
	r.OnLeave(func(string) { left++ })

	if err := r.Leave(true); err != nil {
		t.Fatalf("Leave(true) error = %v", err)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("frames sent = %d, want exactly 1", len(conn.sent))
	}
	if protocol.Opcode(conn.sent[0][0]) != protocol.LeaveRoom {
		t.Errorf("sent opcode = %d, want LeaveRoom", conn.sent[0][0])
	}

	// Duplicate leave issues nothing further.
	if err := r.Leave(true); err != nil {
		t.Fatalf("second Leave(true) error = %v", err)
	}
	if err := r.Send("late"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() while leaving error = %v, want ErrNotConnected", err)
	}
	if len(conn.sent) != 1 {
		t.Errorf("frames sent after leave = %d, want 1", len(conn.sent))
	}

	// Server closes the transport; that completes the leave.
	conn.Close()
	if left != 1 {
		t.Errorf("left events = %d, want 1", left)
	}
	if strat.teardowns == 0 {
		t.Error("strategy not torn down on leave")
	}
}

func TestRoom_LeaveUnconsented(t *testing.T) {
	r, conn, _ := newTestRoom(t)

	left := 0
	r.OnLeave(func(string) { left++ })

	if err := r.Leave(false); err != nil {
		t.Fatalf("Leave(false) error = %v", err)
	}
	if len(conn.sent) != 0 {
		t.Errorf("frames sent = %d, want 0", len(conn.sent))
	}
	if !conn.closed {
		t.Error("transport not closed")
	}
	if left != 1 {
		t.Errorf("left events = %d, want 1", left)
	}
}

func TestRoom_LeaveNeverConnected(t *testing.T) {
	r, err := NewRoom("battle", WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewRoom() error = %v", err)
	}

	left := 0
	r.OnLeave(func(string) { left++ })

	if err := r.Leave(true); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if left != 1 {
		t.Errorf("left events = %d, want 1 (synchronous)", left)
	}
}

func TestRoom_TotalResetAfterLeave(t *testing.T) {
	r, conn, _ := newTestRoom(t)

	var joins, changes, messages, errs, lefts int
	r.OnJoin(func() { joins++ })
	r.OnStateChange(func(any) { changes++ })
	r.OnMessage(func(any) { messages++ })
	r.OnError(func(error) { errs++ })
	r.OnLeave(func(string) { lefts++ })

	conn.deliver(protocol.EncodeJoin("sid1", "test", nil))
	if joins != 1 {
		t.Fatalf("join events = %d, want 1", joins)
	}

	r.Leave(false)
	if lefts != 1 {
		t.Fatalf("left events = %d, want 1", lefts)
	}

	// Stray frames after leave must reach no subscriber.
	conn.deliver(protocol.EncodeJoin("sid2", "test", nil))
	conn.deliver(protocol.EncodeOpcodeOnly(protocol.RoomState))
	conn.deliver([]byte{0x01})
	conn.deliver(nil)

	if joins != 1 || changes != 0 || messages != 0 || errs != 0 || lefts != 1 {
		t.Errorf("callbacks after leave: joins=%d changes=%d messages=%d errs=%d lefts=%d",
			joins, changes, messages, errs, lefts)
	}
}

func TestRoom_ServerInitiatedLeave(t *testing.T) {
	r, conn, _ := newTestRoom(t)

	left := 0
	r.OnLeave(func(string) { left++ })

	// Leave before any join is an immediate consented leave.
	conn.deliver(protocol.EncodeLeave())

	if !conn.closed {
		t.Error("transport not closed on server leave")
	}
	if left != 1 {
		t.Errorf("left events = %d, want 1", left)
	}
	if r.HasJoined() {
		t.Error("HasJoined() = true, want false")
	}
}

func TestRoom_SendBeforeConnect(t *testing.T) {
	r, err := NewRoom("battle", WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewRoom() error = %v", err)
	}
	if err := r.Send("hi"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestRoom_SendEncodesDataFrame(t *testing.T) {
	r, conn, _ := newTestRoom(t)
	r.AssignID("r1")
	conn.deliver(protocol.EncodeJoin("sid1", "test", nil))

	if err := r.Send(map[string]any{"x": 1}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("frames sent = %d, want 1", len(conn.sent))
	}

	roomID, payload, err := protocol.ParseData(conn.sent[0])
	if err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if roomID != "r1" {
		t.Errorf("roomID = %q, want %q", roomID, "r1")
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload not msgpack: %v", err)
	}
}

func TestRoom_PreBoundSchemaKept(t *testing.T) {
	dec := &recordingDecoder{}
	strat := &fakeStrategy{}
	reg := serializer.DefaultRegistry()
	reg.Register("test", func() serializer.Serializer { return strat })

	r, err := NewRoom("battle",
		WithLogger(quietLogger()),
		WithRegistry(reg),
		WithSchemaDecoder(dec),
	)
	if err != nil {
		t.Fatalf("NewRoom() error = %v", err)
	}
	conn := &fakeConn{}
	if err := r.Connect(context.Background(), conn); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn.deliver(protocol.EncodeJoin("sid1", "schema", []byte{0x01}))
	conn.deliver(protocol.EncodeOpcodeOnly(protocol.RoomState))
	conn.deliver([]byte{0x02})

	if dec.handshakes != 1 {
		t.Errorf("decoder handshakes = %d, want 1 (pre-bound instance kept)", dec.handshakes)
	}
	if dec.fulls != 1 {
		t.Errorf("decoder full decodes = %d, want 1", dec.fulls)
	}
}

func TestRoom_AssignIDOnce(t *testing.T) {
	r, err := NewRoom("battle", WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewRoom() error = %v", err)
	}
	if err := r.AssignID("r1"); err != nil {
		t.Fatalf("AssignID() error = %v", err)
	}
	if err := r.AssignID("r2"); !errors.Is(err, ErrIDAssigned) {
		t.Errorf("second AssignID() error = %v, want ErrIDAssigned", err)
	}
	if r.ID() != "r1" {
		t.Errorf("ID() = %q, want %q", r.ID(), "r1")
	}
}

func TestRoom_SecondJoinFrameDoesNotOverwriteSession(t *testing.T) {
	r, conn, _ := newTestRoom(t)
	conn.deliver(protocol.EncodeJoin("sid1", "test", nil))

	var got error
	r.OnError(func(err error) { got = err })

	conn.deliver(protocol.EncodeJoin("sid2", "fossil-delta", nil))

	if !errors.Is(got, ErrProtocol) {
		t.Errorf("error event = %v, want ErrProtocol", got)
	}
	if r.SessionID() != "sid1" {
		t.Errorf("SessionID() = %q, want %q (session is immutable after join)", r.SessionID(), "sid1")
	}
	if r.SerializerName() != "test" {
		t.Errorf("SerializerName() = %q, want %q", r.SerializerName(), "test")
	}
}

func TestRoom_FailedHandshakeDropsPreBoundDecoder(t *testing.T) {
	dec := &recordingDecoder{handshakeErr: errors.New("schema mismatch")}
	r, err := NewRoom("battle", WithLogger(quietLogger()), WithSchemaDecoder(dec))
	if err != nil {
		t.Fatalf("NewRoom() error = %v", err)
	}
	conn := &fakeConn{}
	if err := r.Connect(context.Background(), conn); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn.deliver(protocol.EncodeJoin("sid1", "schema", []byte{0x01}))

	if r.HasJoined() {
		t.Fatal("HasJoined() = true after failed handshake, want false")
	}
	if dec.releases == 0 {
		t.Error("torn-down decoder never released")
	}

	// A retried join resolves a fresh instance from the registry; the
	// torn-down decoder must not be consulted again.
	conn.deliver(protocol.EncodeJoin("sid2", "schema", nil))

	if dec.handshakes != 1 {
		t.Errorf("decoder handshake calls = %d, want 1", dec.handshakes)
	}
	if !r.HasJoined() {
		t.Error("HasJoined() = false after retried join, want true")
	}
	if r.SessionID() != "sid2" {
		t.Errorf("SessionID() = %q, want %q", r.SessionID(), "sid2")
	}
}

func TestRoom_ConcurrentSendAndLeave(t *testing.T) {
	r, conn, _ := newTestRoom(t)

	done := make(chan struct{})
	r.OnLeave(func(string) { close(done) })

	// One goroutine plays the transport reader: a join, a burst of state
	// frames, then the close. Two more drive the public API the way the
	// CLI does, sending from one and leaving from another.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		conn.deliver(protocol.EncodeJoin("sid1", "test", nil))
		for i := 0; i < 200; i++ {
			conn.deliver(protocol.EncodeOpcodeOnly(protocol.RoomState))
			conn.deliver([]byte{byte(i)})
		}
		conn.Close()
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := r.Send("tick"); err != nil && !errors.Is(err, ErrNotConnected) {
				t.Errorf("Send() error = %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		if err := r.Leave(true); err != nil {
			t.Errorf("Leave() error = %v", err)
		}
	}()

	wg.Wait()
	<-done
}

// recordingDecoder is a fake serializer.SchemaDecoder.
type recordingDecoder struct {
	handshakes   int
	fulls        int
	patches      int
	releases     int
	handshakeErr error
}

func (d *recordingDecoder) DecodeHandshake([]byte) error { d.handshakes++; return d.handshakeErr }
func (d *recordingDecoder) DecodeFull([]byte) error      { d.fulls++; return nil }
func (d *recordingDecoder) DecodePatch([]byte) error     { d.patches++; return nil }
func (d *recordingDecoder) Root() any                    { return nil }
func (d *recordingDecoder) Release()                     { d.releases++ }
