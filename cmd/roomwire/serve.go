package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roomwire-dev/roomwire/pkg/protocol"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local development server",
		Long: `Run a local development server speaking the wire protocol.

Each path under /rooms/ is a room. Clients that connect are joined with
the full-snapshot serializer, receive the current room state, and see
every message any client sends. Useful for trying the client against a
live endpoint without a production server.

Examples:
  roomwire serve
  roomwire serve --addr=:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":2567", "Address to listen on")

	return cmd
}

func runServe(addr string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := newDevServer(logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/rooms/{name}", srv.handleRoom)

	info("listening on %s", addr)
	return http.ListenAndServe(addr, r)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // local development only
	},
}

// devServer hosts in-memory rooms. Every room uses the full-snapshot
// serializer, so joining clients need no handshake.
type devServer struct {
	logger *slog.Logger

	mu     sync.Mutex
	rooms  map[string]*devRoom
	nextID int
}

type devRoom struct {
	name     string
	messages int

	mu       sync.Mutex
	sessions map[string]*devSession
}

type devSession struct {
	id   string
	conn *websocket.Conn

	// Serializes writes; the broadcast path and the per-session read
	// loop both send frames.
	writeMu sync.Mutex
}

func newDevServer(logger *slog.Logger) *devServer {
	return &devServer{
		logger: logger,
		rooms:  make(map[string]*devRoom),
	}
}

func (s *devServer) room(name string) *devRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[name]
	if !ok {
		rm = &devRoom{
			name:     name,
			sessions: make(map[string]*devSession),
		}
		s.rooms[name] = rm
	}
	return rm
}

func (s *devServer) sessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return fmt.Sprintf("s%d", s.nextID)
}

func (s *devServer) handleRoom(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "name")
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "room", name, "err", err)
		return
	}

	rm := s.room(name)
	sess := &devSession{id: s.sessionID(), conn: conn}

	rm.add(sess)
	s.logger.Info("session joined", "room", name, "session", sess.id)

	if err := sess.send(protocol.EncodeJoin(sess.id, "full", nil)); err != nil {
		rm.remove(sess)
		return
	}
	if err := rm.sendSnapshot(sess); err != nil {
		rm.remove(sess)
		return
	}
	rm.broadcastSnapshot(sess)

	s.readLoop(rm, sess)

	rm.remove(sess)
	rm.broadcastSnapshot(nil)
	s.logger.Info("session left", "room", name, "session", sess.id)
}

// readLoop consumes frames from one client until it leaves or drops.
func (s *devServer) readLoop(rm *devRoom, sess *devSession) {
	for {
		kind, frame, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage || len(frame) == 0 {
			continue
		}

		op, err := protocol.ReadOpcode(frame)
		if err != nil {
			continue
		}
		switch op {
		case protocol.LeaveRoom:
			// Consented leave: confirm, then close.
			sess.send(protocol.EncodeLeave())
			sess.conn.Close()
			return

		case protocol.RoomData:
			_, payload, err := protocol.ParseData(frame)
			if err != nil {
				s.logger.Warn("bad data frame", "session", sess.id, "err", err)
				continue
			}
			rm.recordMessage()
			rm.broadcastData(payload)

		default:
			s.logger.Warn("unexpected opcode", "session", sess.id, "opcode", op.String())
		}
	}
}

func (sess *devSession) send(frame []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sess.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// sendPair transmits the two-frame half of a state or data exchange: the
// opcode announcement, then the payload. Both frames go out under one lock
// acquisition so a concurrent broadcast cannot slot its own frames between
// them and break the alternation the client relies on.
func (sess *devSession) sendPair(op protocol.Opcode, payload []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := sess.conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeOpcodeOnly(op)); err != nil {
		return err
	}
	sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sess.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (rm *devRoom) add(sess *devSession) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.sessions[sess.id] = sess
}

func (rm *devRoom) remove(sess *devSession) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.sessions, sess.id)
}

func (rm *devRoom) recordMessage() {
	rm.mu.Lock()
	rm.messages++
	rm.mu.Unlock()
}

// snapshot encodes the room state for the full-snapshot serializer.
func (rm *devRoom) snapshot() ([]byte, error) {
	rm.mu.Lock()
	state := map[string]any{
		"room":     rm.name,
		"clients":  len(rm.sessions),
		"messages": rm.messages,
	}
	rm.mu.Unlock()
	return msgpack.Marshal(state)
}

// sendSnapshot delivers the current state to one session: an opcode frame
// announcing the snapshot, then the payload frame.
func (rm *devRoom) sendSnapshot(sess *devSession) error {
	payload, err := rm.snapshot()
	if err != nil {
		return err
	}
	return sess.sendPair(protocol.RoomState, payload)
}

// broadcastSnapshot pushes the current state to every session except skip.
func (rm *devRoom) broadcastSnapshot(skip *devSession) {
	payload, err := rm.snapshot()
	if err != nil {
		return
	}
	for _, sess := range rm.members() {
		if sess == skip {
			continue
		}
		sess.sendPair(protocol.RoomState, payload)
	}
}

// broadcastData relays an application message to every session.
func (rm *devRoom) broadcastData(payload []byte) {
	for _, sess := range rm.members() {
		sess.sendPair(protocol.RoomData, payload)
	}
}

func (rm *devRoom) members() []*devSession {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]*devSession, 0, len(rm.sessions))
	for _, sess := range rm.sessions {
		out = append(out, sess)
	}
	return out
}
