package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

// SessionHeader carries the assigned session id on the upgrade response.
const SessionHeader = "X-Relay-Session-Id"

// SessionChangeFunc is told about every session transition exactly once:
// connected=true before the first request is read, connected=false after
// the session has been removed. It must not block.
type SessionChangeFunc func(id pt.ClientID, connected bool)

type ServerOptions struct {
	Options
	MaxSessions    int
	OriginPatterns []string
}

// Server accepts websocket sessions and routes calls between them.
type Server struct {
	log   *zap.Logger
	opts  ServerOptions
	mux   *Mux
	slots *semaphore.Weighted

	nextID atomic.Int32

	mu       sync.RWMutex
	sessions map[pt.ClientID]*Peer
	onChange SessionChangeFunc
	closed   bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(log *zap.Logger, opts ServerOptions) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log:      log,
		opts:     opts,
		mux:      NewMux(),
		slots:    semaphore.NewWeighted(int64(opts.MaxSessions)),
		sessions: make(map[pt.ClientID]*Peer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Server) Handle(method string, h HandlerFunc) { s.mux.Handle(method, h) }

func (s *Server) Methods() []string { return s.mux.Methods() }

func (s *Server) OnSessionChange(fn SessionChangeFunc) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Call issues method on session id and waits for the answer.
func (s *Server) Call(ctx context.Context, id pt.ClientID, method string, params any) (json.RawMessage, error) {
	s.mu.RLock()
	p, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotConnected)
	}
	return p.Call(ctx, method, params)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if !s.slots.TryAcquire(1) {
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}
	defer s.slots.Release(1)

	id := pt.ClientID(s.nextID.Add(1))
	w.Header().Set(SessionHeader, id.String())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		s.log.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	log := s.log.With(zap.Int32("session", int32(id)))
	p := newPeer(s.ctx, id, conn, s.mux, log, s.opts.Options)

	s.mu.Lock()
	s.sessions[id] = p
	onChange := s.onChange
	s.mu.Unlock()

	log.Info("session connected", zap.String("remote", r.RemoteAddr))
	if onChange != nil {
		onChange(id, true)
	}

	err = p.serve()

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	log.Info("session disconnected", zap.Int("close_status", int(websocket.CloseStatus(err))), zap.Error(err))
	if onChange != nil {
		onChange(id, false)
	}
}

// Close ends every session and waits for their disconnect callbacks.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peers := make([]*Peer, 0, len(s.sessions))
	for _, p := range s.sessions {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  error
		g     errgroup.Group
	)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			err := p.Close()
			errMu.Lock()
			errs = multierr.Append(errs, err)
			errMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.cancel()
	s.wg.Wait()
	return errs
}
