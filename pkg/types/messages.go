package types

// Client -> Relay (lobby)
//   register_client   {nickname, staking_ckb, bet_ckb}  -> {result}
//   unregister_client {}                                -> {result}
//   fetch_clients     {}                                -> {clients}
//   connect_client    {requester, client_id}            -> {result}
//   disconnect_client {}                                -> {}
//
// Relay -> Client
//   propose_connection {}           -> {result}
//   partner_disconnect {client_id}  -> {}
//
// Client -> Relay -> Partner (forwarded verbatim, see ForwardedMethods)

const (
	MethodRegisterClient   = "register_client"
	MethodUnregisterClient = "unregister_client"
	MethodFetchClients     = "fetch_clients"
	MethodConnectClient    = "connect_client"
	MethodDisconnectClient = "disconnect_client"

	MethodProposeConnection = "propose_connection"
	MethodPartnerDisconnect = "partner_disconnect"

	MethodProposeChannelParameter = "propose_channel_parameter"
	MethodPrepareKabletopChannel  = "prepare_kabletop_channel"
	MethodOpenKabletopChannel     = "open_kabletop_channel"
	MethodCloseKabletopChannel    = "close_kabletop_channel"
	MethodSwitchRound             = "switch_round"
	MethodSyncOperation           = "sync_operation"
	MethodSyncP2pMessage          = "sync_p2p_message"
	MethodNotifyGameOver          = "notify_game_over"
)

// ForwardedMethods maps every pair-forwarded method to the name of the
// response shape the partner answers with. The relay never decodes these.
var ForwardedMethods = map[string]string{
	MethodProposeChannelParameter: "ApproveGameParameter",
	MethodPrepareKabletopChannel:  "CompleteAndSignChannel",
	MethodOpenKabletopChannel:     "OpenChannel",
	MethodCloseKabletopChannel:    "CloseChannel",
	MethodSwitchRound:             "OpenRound",
	MethodSyncOperation:           "ApplyOperation",
	MethodSyncP2pMessage:          "ReplyP2pMessage",
	MethodNotifyGameOver:          "CloseGame",
}

type RegisterClient struct {
	Nickname   string `json:"nickname"`
	StakingCKB uint64 `json:"staking_ckb"`
	BetCKB     uint64 `json:"bet_ckb"`
}

type UnregisterClient struct{}

type FetchClients struct{}

type ConnectClient struct {
	Requester ClientInfo `json:"requester"`
	ClientID  ClientID   `json:"client_id"`
}

type DisconnectClient struct{}

type ProposeConnection struct{}

type PartnerDisconnect struct {
	ClientID ClientID `json:"client_id"`
}

// Result is the boolean ack shared by register_client, unregister_client,
// connect_client and propose_connection.
type Result struct {
	Result bool `json:"result"`
}

type ClientList struct {
	Clients []ClientInfo `json:"clients"`
}

type Empty struct{}
