package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyang/task-mesh/internal/domain/message"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
	porttransport "github.com/alanyang/task-mesh/internal/port/transport"
)

const (
	defaultSendBuffer = 64
	writeWait         = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var (
	_ porttransport.ControllerLink = (*Server)(nil)
	_ porttransport.Broadcaster    = (*Server)(nil)
)

// Server is the master end of the link. Controllers connect to it, send
// requests that are applied to the coordinator, and receive dispatches.
type Server struct {
	coord      portcoord.Coordinator
	sendBuffer int

	mu       sync.RWMutex
	sessions map[*session]struct{}
	bound    map[string]*session
}

type ServerOption func(*Server)

// WithSendBuffer sets how many frames may queue per session before
// Dispatch starts failing.
func WithSendBuffer(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

func NewServer(coord portcoord.Coordinator, opts ...ServerOption) *Server {
	s := &Server{
		coord:      coord,
		sendBuffer: defaultSendBuffer,
		sessions:   make(map[*session]struct{}),
		bound:      make(map[string]*session),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetCoordinator wires the coordinator after construction; the master needs
// the server as its link before it exists itself.
func (s *Server) SetCoordinator(coord portcoord.Coordinator) {
	s.mu.Lock()
	s.coord = coord
	s.mu.Unlock()
}

func (s *Server) Register(rg *gin.RouterGroup) {
	rg.GET("", s.handleLink)
}

// Connected lists the controller ids that currently have a bound session.
func (s *Server) Connected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bound))
	for id := range s.bound {
		out = append(out, id)
	}
	return out
}

// Dispatch enqueues msg on the controller's session. It does not wait for delivery.
func (s *Server) Dispatch(_ context.Context, controllerID string, msg message.Dispatch) error {
	s.mu.RLock()
	sess, ok := s.bound[controllerID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dispatch to %s: %w", controllerID, ErrNotConnected)
	}
	f, err := newFrame(FrameEvent, MethodDispatch, msg)
	if err != nil {
		return err
	}
	if err := sess.write(f); err != nil {
		return fmt.Errorf("dispatch to %s: %w", controllerID, err)
	}
	return nil
}

// Broadcast sends msg to every open session, bound or not.
func (s *Server) Broadcast(_ context.Context, msg message.Shutdown) error {
	f, err := newFrame(FrameEvent, MethodShutdown, msg)
	if err != nil {
		return err
	}
	s.mu.RLock()
	targets := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.mu.RUnlock()

	var errs []error
	for _, sess := range targets {
		if err := sess.write(f); err != nil {
			errs = append(errs, fmt.Errorf("broadcast to session %s: %w", sess.id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleLink(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("link: websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(conn, CodecFor(c.Query("codec")), s.sendBuffer)
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	if id := c.Query("controller_id"); id != "" {
		s.bind(id, sess)
	}
	slog.Info("link: controller connected", "session_id", sess.id, "codec", sess.codec.Name(), "remote", conn.RemoteAddr().String())

	go sess.writePump()
	s.readPump(c.Request.Context(), sess)

	s.mu.Lock()
	delete(s.sessions, sess)
	if sess.controllerID != "" && s.bound[sess.controllerID] == sess {
		delete(s.bound, sess.controllerID)
	}
	s.mu.Unlock()
	sess.close()
	slog.Info("link: controller disconnected", "session_id", sess.id, "controller_id", sess.controllerID)
}

// bind routes dispatches for controllerID to sess, replacing an older session.
func (s *Server) bind(controllerID string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.controllerID = controllerID
	s.bound[controllerID] = sess
}

func (s *Server) readPump(ctx context.Context, sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("link: read failed", "session_id", sess.id, "error", err)
			}
			return
		}
		req, err := sess.codec.Decode(data)
		if err != nil {
			slog.Warn("link: undecodable frame dropped", "session_id", sess.id, "error", err)
			continue
		}
		if req.Type != FrameRequest {
			continue
		}

		resp := s.serve(ctx, sess, req)
		if err := sess.write(resp); err != nil {
			slog.Warn("link: response not sent", "session_id", sess.id, "method", req.Method, "error", err)
		}
	}
}

func (s *Server) serve(ctx context.Context, sess *session, req *Frame) *Frame {
	s.mu.RLock()
	coord := s.coord
	s.mu.RUnlock()

	var (
		out any
		err error
	)
	switch req.Method {
	case MethodRegister:
		var reg message.Registration
		if err = decode(req, &reg); err == nil {
			out, err = coord.RegisterController(ctx, reg)
			if err == nil {
				s.bind(reg.ControllerID, sess)
			}
		}
	case MethodDeregister:
		var dereg message.Deregistration
		if err = decode(req, &dereg); err == nil {
			err = coord.DeregisterController(ctx, dereg)
		}
	case MethodHeartbeat:
		var hb message.Heartbeat
		if err = decode(req, &hb); err == nil {
			err = coord.Heartbeat(ctx, hb)
		}
	case MethodAck:
		var ack message.Ack
		if err = decode(req, &ack); err == nil {
			err = coord.Ack(ctx, ack)
		}
	case MethodReport:
		var rep message.StatusReport
		if err = decode(req, &rep); err == nil {
			err = coord.Report(ctx, rep)
		}
	default:
		err = fmt.Errorf("method %q: %w", req.Method, ErrBadRequest)
	}

	if err != nil {
		return errorTo(req, err)
	}
	resp, encErr := responseTo(req, out)
	if encErr != nil {
		return errorTo(req, encErr)
	}
	return resp
}

func decode(req *Frame, dst any) error {
	if err := json.Unmarshal(req.Data, dst); err != nil {
		return fmt.Errorf("decode %s: %v: %w", req.Method, err, ErrBadRequest)
	}
	return nil
}

// session is one websocket connection. Writes go through a buffered pump so
// the coordination loop never blocks on a slow controller.
type session struct {
	id           string
	conn         *websocket.Conn
	codec        Codec
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	controllerID string
}

func newSession(conn *websocket.Conn, codec Codec, buffer int) *session {
	return &session{
		id:    uuid.NewString(),
		conn:  conn,
		codec: codec,
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

func (s *session) write(f *Frame) error {
	data, err := s.codec.Encode(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	select {
	case s.send <- data:
		return nil
	default:
		return ErrSendBuffer
	}
}

func (s *session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(s.codec.MessageType(), data); err != nil {
				slog.Warn("link: write failed, closing session", "session_id", s.id, "error", err)
				s.close()
				return
			}
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close() //nolint:errcheck
	})
}
