package ws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kabletop-relay/internal/types"
	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("session closed")
)

// RemoteError is an error string returned by the other end of a call.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// HandlerFunc serves one inbound method. caller is the session the request
// arrived on.
type HandlerFunc func(ctx context.Context, caller pt.ClientID, params json.RawMessage) (any, error)

// Mux maps method names to handlers. Safe for concurrent use.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

func (m *Mux) Handle(method string, h HandlerFunc) {
	m.mu.Lock()
	m.handlers[method] = h
	m.mu.Unlock()
}

func (m *Mux) lookup(method string) (HandlerFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[method]
	return h, ok
}

// Methods lists the registered method names in sorted order.
func (m *Mux) Methods() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

type Options struct {
	// CallTimeout bounds every outbound call. Zero means only the caller's
	// context applies.
	CallTimeout time.Duration
	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration
	ReadLimit    int64
	// QueueSize is the number of inbound requests buffered per session.
	QueueSize int
}

const (
	defaultReadLimit = 1 << 20
	defaultQueueSize = 64
	writeTimeout     = 3 * time.Second
)

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	return o
}

// Peer is one end of a websocket session. Both ends issue calls and serve
// requests over the same connection.
type Peer struct {
	id   pt.ClientID
	conn *websocket.Conn
	mux  *Mux
	log  *zap.Logger
	opts Options

	outbox   chan []byte
	requests chan *types.Frame

	mu      sync.Mutex
	pending map[string]chan *types.Frame // nil once the session is gone

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newPeer(parent context.Context, id pt.ClientID, conn *websocket.Conn, mux *Mux, log *zap.Logger, opts Options) *Peer {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(parent)
	conn.SetReadLimit(opts.ReadLimit)
	return &Peer{
		id:       id,
		conn:     conn,
		mux:      mux,
		log:      log,
		opts:     opts,
		outbox:   make(chan []byte, opts.QueueSize),
		requests: make(chan *types.Frame, opts.QueueSize),
		pending:  make(map[string]chan *types.Frame),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (p *Peer) ID() pt.ClientID { return p.id }

// Done is closed once the session has stopped reading.
func (p *Peer) Done() <-chan struct{} { return p.done }

// serve blocks until the connection fails or is closed and returns the
// error that ended the read loop. No handler of this session is running
// once serve returns.
func (p *Peer) serve() error {
	defer close(p.done)

	worked := make(chan struct{})
	go p.writeLoop()
	go func() {
		defer close(worked)
		p.workLoop()
	}()
	if p.opts.PingInterval > 0 {
		go p.pingLoop()
	}

	err := p.readLoop()
	p.cancel()
	p.failPending()
	<-worked
	return err
}

func (p *Peer) readLoop() error {
	for {
		_, data, err := p.conn.Read(p.ctx)
		if err != nil {
			return err
		}

		f, err := types.Decode(data)
		if err != nil {
			p.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}

		switch {
		case f.IsResponse():
			p.resolve(f)
		case f.IsRequest():
			select {
			case p.requests <- f:
			case <-p.ctx.Done():
				return p.ctx.Err()
			}
		default:
			p.log.Debug("dropping frame of unknown type", zap.String("type", f.Type))
		}
	}
}

// workLoop runs inbound requests one at a time, in arrival order.
func (p *Peer) workLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case f := <-p.requests:
			// requests still queued when the session ends are dropped
			if p.ctx.Err() != nil {
				return
			}
			p.dispatch(f)
		}
	}
}

func (p *Peer) dispatch(req *types.Frame) {
	resp := &types.Frame{Type: types.FrameResponse, ID: req.ID}

	h, ok := p.mux.lookup(req.Method)
	if !ok {
		resp.Error = fmt.Sprintf("unknown method %s", req.Method)
	} else if result, err := h(p.ctx, p.id, req.Params); err != nil {
		resp.Error = err.Error()
	} else if raw, err := encodePayload(result); err != nil {
		resp.Error = fmt.Sprintf("serialize %s -> %v", req.Method, err)
	} else {
		resp.Result = raw
	}

	if err := p.send(p.ctx, resp); err != nil {
		p.log.Debug("response not delivered", zap.String("method", req.Method), zap.Error(err))
	}
}

func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case data := <-p.outbox:
			ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
			err := p.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				p.log.Debug("write failed", zap.Error(err))
				_ = p.conn.CloseNow()
				return
			}
		}
	}
}

func (p *Peer) pingLoop() {
	t := time.NewTicker(p.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(p.ctx, p.opts.PingInterval)
			err := p.conn.Ping(ctx)
			cancel()
			if err != nil {
				if p.ctx.Err() == nil {
					p.log.Info("keepalive failed", zap.Error(err))
				}
				_ = p.conn.CloseNow()
				return
			}
		}
	}
}

func (p *Peer) send(ctx context.Context, f *types.Frame) error {
	data, err := types.Encode(f)
	if err != nil {
		return err
	}
	select {
	case p.outbox <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrClosed
	}
}

// Call sends method to the other end and waits for its response.
func (p *Peer) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := encodePayload(params)
	if err != nil {
		return nil, fmt.Errorf("serialize %s -> %w", method, err)
	}

	id := uuid.NewString()
	reply := make(chan *types.Frame, 1)
	p.mu.Lock()
	if p.pending == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("call %s: %w", method, ErrClosed)
	}
	p.pending[id] = reply
	p.mu.Unlock()
	defer p.forget(id)

	if p.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.CallTimeout)
		defer cancel()
	}

	if err := p.send(ctx, &types.Frame{Type: types.FrameRequest, ID: id, Method: method, Params: raw}); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	select {
	case f, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("call %s: %w", method, ErrClosed)
		}
		if f.Error != "" {
			return nil, &RemoteError{Message: f.Error}
		}
		return f.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("call %s: %w", method, ctx.Err())
	}
}

func (p *Peer) resolve(f *types.Frame) {
	p.mu.Lock()
	reply, ok := p.pending[f.ID]
	delete(p.pending, f.ID)
	p.mu.Unlock()
	if !ok {
		p.log.Debug("response for unknown call", zap.String("id", f.ID))
		return
	}
	reply <- f
}

func (p *Peer) forget(id string) {
	p.mu.Lock()
	if p.pending != nil {
		delete(p.pending, id)
	}
	p.mu.Unlock()
}

func (p *Peer) failPending() {
	p.mu.Lock()
	for _, reply := range p.pending {
		close(reply)
	}
	p.pending = nil
	p.mu.Unlock()
}

// Close sends a normal close frame and waits for the session to stop.
func (p *Peer) Close() error {
	err := p.conn.Close(websocket.StatusNormalClosure, "bye")
	p.cancel()
	<-p.done
	return err
}

func encodePayload(v any) (json.RawMessage, error) {
	switch v := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("null"), nil
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}
