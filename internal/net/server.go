package net

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	. "matchbook/internal/common"
	"matchbook/internal/engine"
	"matchbook/internal/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	MAX_RECV_SIZE       = FrameLenSize + MaxFrameLen
	defaultNWorkers     = 10
	defaultMaxSessions  = utils.TASK_CHAN_SIZE
	defaultReadTimeout  = 50 * time.Millisecond
	defaultWriteTimeout = time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
	ErrTooManySessions    = errors.New("too many sessions")
)

// Engine is the part of the matching engine the server drives.
type Engine interface {
	Place(ctx context.Context, order *Order) (engine.Placement, error)
	CancelOrder(ctx context.Context, id OrderID) (bool, error)
	ModifyOrder(ctx context.Context, modify OrderModify) ([]Trade, bool, error)
	Levels(ctx context.Context) (BookLevels, error)
}

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	id     uuid.UUID
	conn   net.Conn
	reader *bufio.Reader
}

func newClientSession(conn net.Conn) *ClientSession {
	return &ClientSession{
		id:     uuid.New(),
		conn:   conn,
		reader: bufio.NewReaderSize(conn, MAX_RECV_SIZE),
	}
}

// readFrame returns the next complete frame. It only peeks until the whole
// frame is buffered, so a read that times out half way loses nothing and can
// simply be retried.
func (c *ClientSession) readFrame() ([]byte, error) {
	lenBuf, err := c.reader.Peek(FrameLenSize)
	if err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(lenBuf))
	if n > MaxFrameLen {
		return nil, fmt.Errorf("%d bytes: %w", n, ErrFrameTooLarge)
	}
	buf, err := c.reader.Peek(FrameLenSize + n)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	copy(payload, buf[FrameLenSize:])
	if _, err := c.reader.Discard(FrameLenSize + n); err != nil {
		return nil, err
	}
	return payload, nil
}

// ClientMessage links a message, or the reason it could not be parsed, to the
// client sending it.
type ClientMessage struct {
	clientID uuid.UUID
	message  Message
	err      error
}

// owner tracks which session placed a resting order and how much of it is
// still open, so executions can be routed after the fact.
type owner struct {
	clientID  uuid.UUID
	remaining Quantity
}

type Config struct {
	Address      string
	Port         int
	Workers      int
	MaxSessions  int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	cfg                Config
	engine             Engine
	pool               *utils.WorkerPool
	cancel             context.CancelFunc
	clientSessions     map[uuid.UUID]*ClientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage

	// Only touched by sessionHandler.
	owners map[OrderID]owner
}

func New(cfg Config, eng Engine) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultNWorkers
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Server{
		cfg:    cfg,
		engine: eng,
		// Every session is either queued or held by a worker, so a queue as
		// large as the session cap never blocks.
		pool:           utils.NewWorkerPool(cfg.Workers, cfg.MaxSessions),
		clientSessions: make(map[uuid.UUID]*ClientSession),
		clientMessages: make(chan ClientMessage, cfg.MaxSessions),
		owners:         make(map[OrderID]owner),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) Run(ctx context.Context) error {
	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.Shutdown()
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}

	// Accept blocks, so unblock it by closing the listener on the way down.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeClientSessions()
		return nil
	})

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("server running")

	// Start accepting connections.
	t.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-t.Dying():
					return nil
				default:
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			// Add the client to client sessions we are tracking.
			// We expect to potentially maintain a long TCP session.
			session, err := s.addClientSession(conn)
			if err != nil {
				log.Warn().Err(err).Str("address", conn.RemoteAddr().String()).Msg("client refused")
				_ = conn.Close()
				continue
			}
			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Str("session", session.id.String()).
				Msg("new client added")

			// Pass over the session to be read from.
			s.pool.AddTask(t, session)
		}
	})

	<-t.Dead()
	if err := t.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// handleConnection is a short-lived worker method which reads the next message off the
// session, parses and passes it forward to sessionHandler to handle it. A read that
// times out without a full frame puts the session straight back in the pool. If the
// connection dies, the client session is cleaned up.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(*ClientSession)
	if !ok {
		return ErrImproperConversion
	}

	if err := session.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		log.Error().
			Str("session", session.id.String()).
			Err(err).
			Msg("failed setting deadline for connection")
		s.deleteClientSession(session.id)
		return nil
	}

	payload, err := session.readFrame()
	var netErr net.Error
	switch {
	case err == nil:
	case errors.As(err, &netErr) && netErr.Timeout():
		s.pool.AddTask(t, session)
		return nil
	case errors.Is(err, ErrFrameTooLarge):
		// The stream can not be resynchronised.
		s.send(t, ClientMessage{clientID: session.id, err: err})
		s.deleteClientSession(session.id)
		return nil
	default:
		if !errors.Is(err, io.EOF) {
			log.Error().
				Err(err).
				Str("session", session.id.String()).
				Msg("error reading from connection")
		}
		s.deleteClientSession(session.id)
		return nil
	}

	message, err := parseMessage(payload)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session", session.id.String()).
			Msg("error parsing message")
	}

	// Pass over to the message handling buffer and push the session back to
	// handle the next message.
	if s.send(t, ClientMessage{clientID: session.id, message: message, err: err}) {
		s.pool.AddTask(t, session)
	}
	return nil
}

func (s *Server) send(t *tomb.Tomb, message ClientMessage) bool {
	select {
	case s.clientMessages <- message:
		return true
	case <-t.Dying():
		return false
	}
}

// sessionHandler reads off incoming messages from clients and applies them to
// the engine one at a time, in arrival order.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	ctx := t.Context(context.Background())
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			if err := s.handleMessage(ctx, message); err != nil {
				if errors.Is(err, engine.ErrEngineStopped) {
					return err
				}
				log.Error().Err(err).Str("session", message.clientID.String()).Msg("handling message")
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, cm ClientMessage) error {
	if cm.err != nil {
		return s.Report(cm.clientID, Reject{Reason: ReasonMalformed, Err: cm.err.Error()})
	}

	switch m := cm.message.(type) {
	case NewOrderMessage:
		return s.handleNewOrder(ctx, cm.clientID, m)
	case CancelOrderMessage:
		return s.handleCancel(ctx, cm.clientID, m)
	case ModifyOrderMessage:
		return s.handleModify(ctx, cm.clientID, m)
	case BaseMessage:
		if m.TypeOf == LevelsRequest {
			levels, err := s.engine.Levels(ctx)
			if err != nil {
				return err
			}
			return s.Report(cm.clientID, NewLevels(levels))
		}
		return nil
	}
	return ErrInvalidMessageType
}

func (s *Server) handleNewOrder(ctx context.Context, clientID uuid.UUID, m NewOrderMessage) error {
	placement, err := s.engine.Place(ctx, m.Order())
	if errors.Is(err, engine.ErrEngineStopped) || errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		// Trades completed before the failure still stand, so route them.
		s.owners[m.ID] = owner{clientID: clientID, remaining: m.Quantity}
		s.routeTrades(placement.Trades)
		s.dropOwner(m.ID, clientID)
		return s.Report(clientID, Reject{OrderID: m.ID, Reason: ReasonInternal, Err: err.Error()})
	}

	switch placement.Status {
	case engine.RejectedDuplicate:
		return s.Report(clientID, Reject{OrderID: m.ID, Reason: ReasonDuplicate})
	case engine.RejectedNotAdmissible:
		return s.Report(clientID, Reject{OrderID: m.ID, Reason: ReasonNotAdmissible})
	}

	s.owners[m.ID] = owner{clientID: clientID, remaining: m.Quantity}
	s.routeTrades(placement.Trades)
	if placement.Status == engine.Killed {
		s.dropOwner(m.ID, clientID)
		return s.Report(clientID, Reject{OrderID: m.ID, Reason: ReasonKilled})
	}
	return nil
}

func (s *Server) handleCancel(ctx context.Context, clientID uuid.UUID, m CancelOrderMessage) error {
	if o, ok := s.owners[m.ID]; !ok || o.clientID != clientID {
		return s.Report(clientID, Reject{OrderID: m.ID, Reason: ReasonUnknownOrder})
	}
	cancelled, err := s.engine.CancelOrder(ctx, m.ID)
	if err != nil {
		return err
	}
	delete(s.owners, m.ID)
	if !cancelled {
		return s.Report(clientID, Reject{OrderID: m.ID, Reason: ReasonUnknownOrder})
	}
	return nil
}

func (s *Server) handleModify(ctx context.Context, clientID uuid.UUID, m ModifyOrderMessage) error {
	if o, ok := s.owners[m.ID]; !ok || o.clientID != clientID {
		return s.Report(clientID, Reject{OrderID: m.ID, Reason: ReasonUnknownOrder})
	}
	// The replacement is a new order as far as routing goes.
	s.owners[m.ID] = owner{clientID: clientID, remaining: m.Quantity}

	trades, found, err := s.engine.ModifyOrder(ctx, m.OrderModify())
	if errors.Is(err, engine.ErrEngineStopped) || errors.Is(err, context.Canceled) {
		return err
	}
	s.routeTrades(trades)
	switch {
	case err != nil:
		s.dropOwner(m.ID, clientID)
		return s.Report(clientID, Reject{OrderID: m.ID, Reason: ReasonInternal, Err: err.Error()})
	case !found:
		delete(s.owners, m.ID)
		return s.Report(clientID, Reject{OrderID: m.ID, Reason: ReasonUnknownOrder})
	}
	return nil
}

// routeTrades sends each party its execution and forgets orders that are done.
func (s *Server) routeTrades(trades []Trade) {
	for _, trade := range trades {
		bid, ask := generateExecutions(trade)
		for _, exec := range []Execution{bid, ask} {
			o, ok := s.owners[exec.OrderID]
			if !ok {
				continue
			}
			if err := s.Report(o.clientID, exec); err != nil {
				log.Debug().Err(err).Uint64("id", uint64(exec.OrderID)).Msg("execution not delivered")
			}
			if exec.Quantity >= o.remaining {
				delete(s.owners, exec.OrderID)
				continue
			}
			o.remaining -= exec.Quantity
			s.owners[exec.OrderID] = o
		}
	}
}

func (s *Server) dropOwner(id OrderID, clientID uuid.UUID) {
	if o, ok := s.owners[id]; ok && o.clientID == clientID {
		delete(s.owners, id)
	}
}

// Report writes a report to a connected client.
func (s *Server) Report(clientID uuid.UUID, report Report) error {
	s.clientSessionsLock.Lock()
	client, ok := s.clientSessions[clientID]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	if err := client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.deleteClientSession(clientID)
		return fmt.Errorf("unable to send report: %w", err)
	}
	if _, err := client.conn.Write(report.Serialize()); err != nil {
		s.deleteClientSession(clientID)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) (*ClientSession, error) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	if len(s.clientSessions) >= s.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}
	session := newClientSession(conn)
	s.clientSessions[session.id] = session
	return session, nil
}

// deleteClientSession is an atomic map remove. The connection is closed.
func (s *Server) deleteClientSession(id uuid.UUID) {
	s.clientSessionsLock.Lock()
	session, ok := s.clientSessions[id]
	delete(s.clientSessions, id)
	s.clientSessionsLock.Unlock()

	if !ok {
		return
	}
	if err := session.conn.Close(); err != nil {
		log.Debug().Err(err).Str("session", id.String()).Msg("closing connection")
	}
	log.Info().Str("session", id.String()).Msg("client removed")
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	ids := make([]uuid.UUID, 0, len(s.clientSessions))
	for id := range s.clientSessions {
		ids = append(ids, id)
	}
	s.clientSessionsLock.Unlock()

	for _, id := range ids {
		s.deleteClientSession(id)
	}
}
