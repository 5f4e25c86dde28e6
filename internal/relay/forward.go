package relay

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/DoyleJ11/kabletop-relay/internal/ws"
	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

// Forward returns the handler for a pair-forwarded method: the params go to
// the caller's partner under the same method name and the partner's answer
// comes back untouched.
func (s *Service) Forward(method string) ws.HandlerFunc {
	return func(ctx context.Context, caller pt.ClientID, params json.RawMessage) (any, error) {
		partner, ok, err := s.lobby.PartnerOf(ctx, caller)
		if err != nil {
			return nil, fmt.Errorf("relay %s error: %w", method, err)
		}
		if !ok {
			return nil, &UnpairedError{Method: method, Client: caller}
		}

		res, err := s.peers.Call(ctx, partner.ID, method, params)
		if err != nil {
			return nil, &PartnerCallError{Method: method, Err: err}
		}
		return res, nil
	}
}
