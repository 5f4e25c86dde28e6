package types

import "strconv"

// ClientID is the transport-assigned session id. It is unique for the
// lifetime of the relay process.
type ClientID int32

func (id ClientID) String() string { return strconv.FormatInt(int64(id), 10) }

// ClientInfo describes an advertised player. Two values are the same client
// iff their IDs match; the CKB amounts are echoed back untouched.
type ClientInfo struct {
	ID         ClientID `json:"id"`
	Nickname   string   `json:"nickname"`
	StakingCKB uint64   `json:"staking_ckb"`
	BetCKB     uint64   `json:"bet_ckb"`
}

// LobbySnapshot is the read-only view served on /clients and /healthz.
type LobbySnapshot struct {
	Clients  []ClientInfo `json:"clients"`
	Pairings int          `json:"pairings"`
	Sessions int          `json:"sessions"`
}
