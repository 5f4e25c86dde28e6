package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kabletop-relay/internal/lobby"
	"github.com/DoyleJ11/kabletop-relay/internal/metrics"
	"github.com/DoyleJ11/kabletop-relay/internal/ws"
	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

// Caller issues an outbound call to a connected client.
type Caller interface {
	Call(ctx context.Context, id pt.ClientID, method string, params any) (json.RawMessage, error)
}

type Registrar interface {
	Handle(method string, h ws.HandlerFunc)
}

// Service implements every relay method on top of the lobby state. It never
// holds the lobby while talking to a client.
type Service struct {
	log     *zap.Logger
	lobby   *lobby.Lobby
	peers   Caller
	metrics *metrics.Metrics

	workers sync.WaitGroup
}

func New(log *zap.Logger, lb *lobby.Lobby, peers Caller, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{log: log, lobby: lb, peers: peers, metrics: m}
}

// Register binds the lobby methods and every forwarded method on r.
func (s *Service) Register(r Registrar) {
	r.Handle(pt.MethodRegisterClient, s.instrument(pt.MethodRegisterClient, s.RegisterClient))
	r.Handle(pt.MethodUnregisterClient, s.instrument(pt.MethodUnregisterClient, s.UnregisterClient))
	r.Handle(pt.MethodFetchClients, s.instrument(pt.MethodFetchClients, s.FetchClients))
	r.Handle(pt.MethodConnectClient, s.instrument(pt.MethodConnectClient, s.ConnectClient))
	r.Handle(pt.MethodDisconnectClient, s.instrument(pt.MethodDisconnectClient, s.DisconnectClient))
	for method := range pt.ForwardedMethods {
		r.Handle(method, s.instrument(method, s.Forward(method)))
	}
}

func (s *Service) instrument(method string, h ws.HandlerFunc) ws.HandlerFunc {
	return func(ctx context.Context, caller pt.ClientID, params json.RawMessage) (any, error) {
		start := time.Now()
		res, err := h(ctx, caller, params)
		s.metrics.ObserveCall(method, start, outcome(err))
		if err != nil {
			s.log.Debug("call failed", zap.String("method", method), zap.Int32("client", int32(caller)), zap.Error(err))
		}
		return res, err
	}
}

// OnSessionChange is the transport callback. Disconnects are handled on a
// separate goroutine so the transport is never blocked.
func (s *Service) OnSessionChange(id pt.ClientID, connected bool) {
	if connected {
		s.metrics.SessionOpened()
		return
	}
	s.metrics.SessionClosed()

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.handleDisconnect(context.Background(), id)
	}()
}

// Wait blocks until every in-flight disconnect has been handled.
func (s *Service) Wait() { s.workers.Wait() }

func (s *Service) handleDisconnect(ctx context.Context, id pt.ClientID) {
	out, err := s.lobby.DropSession(ctx, id)
	if err != nil {
		if !errors.Is(err, lobby.ErrStopped) {
			s.log.Warn("drop session failed", zap.Int32("client", int32(id)), zap.Error(err))
		}
		return
	}
	if out.Kind == lobby.WasPaired {
		s.notifyPartner(ctx, id, out.Partner)
	}
}

// notifyPartner tells partner that id is gone. Best effort: failures are
// logged and not retried.
func (s *Service) notifyPartner(ctx context.Context, id pt.ClientID, partner pt.ClientInfo) {
	_, err := s.peers.Call(ctx, partner.ID, pt.MethodPartnerDisconnect, pt.PartnerDisconnect{ClientID: id})
	s.metrics.PartnerNotified(err == nil)
	if err != nil {
		s.log.Warn("partner_disconnect not delivered",
			zap.Int32("client", int32(id)),
			zap.Int32("partner", int32(partner.ID)),
			zap.Error(err))
	}
}
