package ws

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

type DialOptions struct {
	Options
	Logger     *zap.Logger
	HTTPHeader http.Header
}

// Client is the player side of a relay session.
type Client struct {
	*Peer
	mux *Mux
}

// Dial opens a session to the relay websocket endpoint at url.
func Dial(ctx context.Context, url string, opts DialOptions) (*Client, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: opts.HTTPHeader})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	var header string
	if resp != nil {
		header = resp.Header.Get(SessionHeader)
	}
	id, err := strconv.ParseInt(header, 10, 32)
	if err != nil || id <= 0 {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("dial %s: bad %s header %q", url, SessionHeader, header)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mux := NewMux()
	p := newPeer(context.Background(), pt.ClientID(id), conn, mux, log.With(zap.Int64("session", id)), opts.Options)
	go func() { _ = p.serve() }()

	return &Client{Peer: p, mux: mux}, nil
}

// Handle binds a method the relay may call on this client.
func (c *Client) Handle(method string, h HandlerFunc) { c.mux.Handle(method, h) }
