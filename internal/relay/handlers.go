package relay

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kabletop-relay/internal/lobby"
	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

// Wire shapes with pointer fields so a missing field is a decode error
// rather than a silent zero.
type registerParams struct {
	Nickname   *string `json:"nickname"`
	StakingCKB *uint64 `json:"staking_ckb"`
	BetCKB     *uint64 `json:"bet_ckb"`
}

type connectParams struct {
	Requester *pt.ClientInfo `json:"requester"`
	ClientID  *pt.ClientID   `json:"client_id"`
}

func decode[T any](typeName string, params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, &DecodeError{Type: typeName, Err: err}
	}
	return v, nil
}

func missing(typeName, field string) error {
	return &DecodeError{Type: typeName, Err: errors.New("missing field `" + field + "`")}
}

func (s *Service) RegisterClient(ctx context.Context, caller pt.ClientID, params json.RawMessage) (any, error) {
	req, err := decode[registerParams]("RegisterClient", params)
	if err != nil {
		return nil, err
	}
	switch {
	case req.Nickname == nil:
		return nil, missing("RegisterClient", "nickname")
	case req.StakingCKB == nil:
		return nil, missing("RegisterClient", "staking_ckb")
	case req.BetCKB == nil:
		return nil, missing("RegisterClient", "bet_ckb")
	}

	ok, err := s.lobby.AddAdvertised(ctx, pt.ClientInfo{
		ID:         caller,
		Nickname:   *req.Nickname,
		StakingCKB: *req.StakingCKB,
		BetCKB:     *req.BetCKB,
	})
	if err != nil {
		return nil, err
	}
	return pt.Result{Result: ok}, nil
}

func (s *Service) UnregisterClient(ctx context.Context, caller pt.ClientID, params json.RawMessage) (any, error) {
	if _, err := decode[pt.UnregisterClient]("UnregisterClient", params); err != nil {
		return nil, err
	}
	ok, err := s.lobby.RemoveAdvertised(ctx, caller)
	if err != nil {
		return nil, err
	}
	return pt.Result{Result: ok}, nil
}

func (s *Service) FetchClients(ctx context.Context, _ pt.ClientID, params json.RawMessage) (any, error) {
	if _, err := decode[pt.FetchClients]("FetchClients", params); err != nil {
		return nil, err
	}
	clients, err := s.lobby.ListAdvertised(ctx)
	if err != nil {
		return nil, err
	}
	return pt.ClientList{Clients: clients}, nil
}

// ConnectClient pairs the caller with an advertised target and asks the
// target to accept. A refused or failed proposal undoes the pairing.
func (s *Service) ConnectClient(ctx context.Context, caller pt.ClientID, params json.RawMessage) (any, error) {
	req, err := decode[connectParams]("ConnectClient", params)
	if err != nil {
		return nil, err
	}
	switch {
	case req.Requester == nil:
		return nil, missing("ConnectClient", "requester")
	case req.ClientID == nil:
		return nil, missing("ConnectClient", "client_id")
	}
	requester := *req.Requester
	requester.ID = caller // requester ids cannot be spoofed
	target := *req.ClientID

	ok, err := s.lobby.Pair(ctx, requester, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return pt.Result{Result: false}, nil
	}

	if s.propose(ctx, caller, target) {
		return pt.Result{Result: true}, nil
	}

	// the caller may be gone already; the rollback still has to happen
	undone, err := s.lobby.Unpair(context.WithoutCancel(ctx), caller, target)
	if err != nil {
		return nil, err
	}
	s.log.Info("connection proposal refused",
		zap.Int32("requester", int32(caller)),
		zap.Int32("target", int32(target)),
		zap.Bool("rolled_back", undone))
	return pt.Result{Result: false}, nil
}

func (s *Service) propose(ctx context.Context, requester, target pt.ClientID) bool {
	raw, err := s.peers.Call(ctx, target, pt.MethodProposeConnection, pt.ProposeConnection{})
	if err != nil {
		s.log.Info("propose_connection failed",
			zap.Int32("requester", int32(requester)),
			zap.Int32("target", int32(target)),
			zap.Error(err))
		return false
	}
	var res pt.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		s.log.Info("propose_connection answered with bad payload",
			zap.Int32("target", int32(target)),
			zap.Error(err))
		return false
	}
	return res.Result
}

func (s *Service) DisconnectClient(ctx context.Context, caller pt.ClientID, params json.RawMessage) (any, error) {
	if _, err := decode[pt.DisconnectClient]("DisconnectClient", params); err != nil {
		return nil, err
	}
	out, err := s.lobby.DropSession(ctx, caller)
	if err != nil {
		return nil, err
	}
	if out.Kind == lobby.WasPaired {
		s.notifyPartner(ctx, caller, out.Partner)
	}
	return pt.Empty{}, nil
}
