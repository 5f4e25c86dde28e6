package relay

import (
	"errors"
	"fmt"

	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

// DecodeError means the params of an inbound call did not have the shape
// of Type.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("deserialize %s -> %v", e.Type, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// UnpairedError is returned by a forwarded method called by a client that
// has no partner.
type UnpairedError struct {
	Method string
	Client pt.ClientID
}

func (e *UnpairedError) Error() string {
	return fmt.Sprintf("relay %s error: unchained client_id(%d)", e.Method, e.Client)
}

// PartnerCallError wraps a failed call to the partner: not connected, timed
// out, or answered with an error.
type PartnerCallError struct {
	Method string
	Err    error
}

func (e *PartnerCallError) Error() string { return fmt.Sprintf("relay %s error: %v", e.Method, e.Err) }
func (e *PartnerCallError) Unwrap() error { return e.Err }

func outcome(err error) string {
	var (
		decodeErr   *DecodeError
		unpairedErr *UnpairedError
		partnerErr  *PartnerCallError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &decodeErr):
		return "decode_error"
	case errors.As(err, &unpairedErr):
		return "unpaired"
	case errors.As(err, &partnerErr):
		return "partner_error"
	default:
		return "error"
	}
}
