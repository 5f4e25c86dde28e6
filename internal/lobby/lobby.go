package lobby

import (
	"context"
	"errors"

	"go.uber.org/zap"

	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

var ErrStopped = errors.New("lobby stopped")

type Msg interface{ isLobbyMsg() }

type AddAdvertised struct {
	Info  pt.ClientInfo
	Reply chan bool
}

type RemoveAdvertised struct {
	ID    pt.ClientID
	Reply chan bool
}

type ListAdvertised struct {
	Reply chan []pt.ClientInfo
}

type PartnerOf struct {
	ID    pt.ClientID
	Reply chan Partner
}

type Pair struct {
	Requester pt.ClientInfo
	TargetID  pt.ClientID
	Reply     chan bool
}

type Unpair struct {
	RequesterID pt.ClientID
	TargetID    pt.ClientID
	Reply       chan bool
}

type DropSession struct {
	ID    pt.ClientID
	Reply chan DropOutcome
}

type GetView struct {
	Reply chan View
}

type Shutdown struct{}

func (AddAdvertised) isLobbyMsg()    {}
func (RemoveAdvertised) isLobbyMsg() {}
func (ListAdvertised) isLobbyMsg()   {}
func (PartnerOf) isLobbyMsg()        {}
func (Pair) isLobbyMsg()             {}
func (Unpair) isLobbyMsg()           {}
func (DropSession) isLobbyMsg()      {}
func (GetView) isLobbyMsg()          {}
func (Shutdown) isLobbyMsg()         {}

type Partner struct {
	Info pt.ClientInfo
	OK   bool
}

type View struct {
	Advertised []pt.ClientInfo
	Pairings   int
}

// Observer is told the table sizes after every mutation.
type Observer interface {
	ObserveLobby(advertised, pairings int)
}

// Lobby owns the relay state. Every operation is a message handled by a
// single goroutine, so each one is atomic with respect to the others.
type Lobby struct {
	inbox  chan Msg
	g      *graph
	log    *zap.Logger
	obs    Observer
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLobby(parent context.Context, log *zap.Logger, obs Observer) *Lobby {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	l := &Lobby{
		inbox:  make(chan Msg, 64),
		g:      newGraph(),
		log:    log,
		obs:    obs,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.loop()
	return l
}

// Expose the inbox so tests can drive the actor directly.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case AddAdvertised:
				ok := l.g.addAdvertised(msg.Info)
				if ok {
					l.log.Info("client advertised",
						zap.Int32("client", int32(msg.Info.ID)),
						zap.String("nickname", msg.Info.Nickname),
						zap.Uint64("staking_ckb", msg.Info.StakingCKB),
						zap.Uint64("bet_ckb", msg.Info.BetCKB))
					l.changed()
				}
				msg.Reply <- ok

			case RemoveAdvertised:
				ok := l.g.removeAdvertised(msg.ID)
				if ok {
					l.log.Info("client withdrew from lobby", zap.Int32("client", int32(msg.ID)))
					l.changed()
				}
				msg.Reply <- ok

			case ListAdvertised:
				msg.Reply <- l.g.listAdvertised()

			case PartnerOf:
				info, ok := l.g.partnerOf(msg.ID)
				msg.Reply <- Partner{Info: info, OK: ok}

			case Pair:
				ok := l.g.pair(msg.Requester, msg.TargetID)
				if ok {
					l.log.Info("pairing established",
						zap.Int32("requester", int32(msg.Requester.ID)),
						zap.Int32("target", int32(msg.TargetID)))
					l.changed()
				}
				msg.Reply <- ok

			case Unpair:
				ok := l.g.unpair(msg.RequesterID, msg.TargetID)
				if ok {
					l.log.Info("pairing rolled back",
						zap.Int32("requester", int32(msg.RequesterID)),
						zap.Int32("target", int32(msg.TargetID)))
					l.changed()
				}
				msg.Reply <- ok

			case DropSession:
				out := l.g.dropSession(msg.ID)
				switch out.Kind {
				case WasAdvertised:
					l.log.Info("advertised client dropped",
						zap.Int32("client", int32(out.Client.ID)),
						zap.String("nickname", out.Client.Nickname))
					l.changed()
				case WasPaired:
					l.log.Info("pairing dropped",
						zap.String("client", out.Client.Nickname),
						zap.Int32("client_id", int32(out.Client.ID)),
						zap.String("partner", out.Partner.Nickname),
						zap.Int32("partner_id", int32(out.Partner.ID)))
					l.changed()
				}
				msg.Reply <- out

			case GetView:
				msg.Reply <- View{Advertised: l.g.listAdvertised(), Pairings: l.g.pairings()}

			case Shutdown:
				l.cancel()
				return
			}
		}
	}
}

func (l *Lobby) changed() {
	l.g.check()
	if l.obs != nil {
		l.obs.ObserveLobby(len(l.g.advertised), l.g.pairings())
	}
}

// Stop ends the actor and waits for it to exit.
func (l *Lobby) Stop() {
	l.cancel()
	<-l.done
}

// ask sends one message and waits for its reply.
func ask[T any](ctx context.Context, l *Lobby, build func(reply chan T) Msg) (T, error) {
	var zero T
	reply := make(chan T, 1)
	select {
	case l.inbox <- build(reply):
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-l.done:
		return zero, ErrStopped
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-l.done:
		return zero, ErrStopped
	}
}

// AddAdvertised puts info in the lobby. It reports false if the client is
// already advertised or paired.
func (l *Lobby) AddAdvertised(ctx context.Context, info pt.ClientInfo) (bool, error) {
	return ask(ctx, l, func(r chan bool) Msg { return AddAdvertised{Info: info, Reply: r} })
}

func (l *Lobby) RemoveAdvertised(ctx context.Context, id pt.ClientID) (bool, error) {
	return ask(ctx, l, func(r chan bool) Msg { return RemoveAdvertised{ID: id, Reply: r} })
}

// ListAdvertised returns a copy of the lobby in no particular order.
func (l *Lobby) ListAdvertised(ctx context.Context) ([]pt.ClientInfo, error) {
	return ask(ctx, l, func(r chan []pt.ClientInfo) Msg { return ListAdvertised{Reply: r} })
}

func (l *Lobby) PartnerOf(ctx context.Context, id pt.ClientID) (pt.ClientInfo, bool, error) {
	p, err := ask(ctx, l, func(r chan Partner) Msg { return PartnerOf{ID: id, Reply: r} })
	return p.Info, p.OK, err
}

// Pair moves target out of the lobby into a pairing with requester. The
// requester must be neither advertised nor paired.
func (l *Lobby) Pair(ctx context.Context, requester pt.ClientInfo, target pt.ClientID) (bool, error) {
	return ask(ctx, l, func(r chan bool) Msg { return Pair{Requester: requester, TargetID: target, Reply: r} })
}

// Unpair reverts a Pair and re-advertises the target, if that pairing is
// still in place.
func (l *Lobby) Unpair(ctx context.Context, requester, target pt.ClientID) (bool, error) {
	return ask(ctx, l, func(r chan bool) Msg { return Unpair{RequesterID: requester, TargetID: target, Reply: r} })
}

// DropSession removes id from wherever it is. A pairing is removed whole.
func (l *Lobby) DropSession(ctx context.Context, id pt.ClientID) (DropOutcome, error) {
	return ask(ctx, l, func(r chan DropOutcome) Msg { return DropSession{ID: id, Reply: r} })
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	return ask(ctx, l, func(r chan View) Msg { return GetView{Reply: r} })
}
