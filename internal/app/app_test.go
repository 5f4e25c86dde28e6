package app

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/DoyleJ11/kabletop-relay/internal/config"
	"github.com/DoyleJ11/kabletop-relay/internal/types"
	"github.com/DoyleJ11/kabletop-relay/internal/ws"
	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.LogLevel = "error"
	cfg.CallTimeout = 2 * time.Second
	cfg.MaxSessions = 1000
	return cfg
}

func startRelay(t *testing.T) *Server {
	t.Helper()
	var srv *Server
	app := fxtest.New(t,
		fx.Supply(testConfig()),
		Module,
		fx.Populate(&srv),
		fx.NopLogger,
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)
	return srv
}

func join(t *testing.T, srv *Server) *ws.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := ws.Dial(ctx, "ws://"+srv.Addr().String()+"/ws", ws.DialOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func call(t *testing.T, c *ws.Client, method, params string) string {
	t.Helper()
	res, err := callErr(c, method, params)
	require.NoError(t, err)
	return string(res)
}

func callErr(c *ws.Client, method, params string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return c.Call(ctx, method, json.RawMessage(params))
}

func answerProposals(c *ws.Client, accept bool) {
	c.Handle(pt.MethodProposeConnection, func(context.Context, pt.ClientID, json.RawMessage) (any, error) {
		return pt.Result{Result: accept}, nil
	})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

var registerA = mustJSON(pt.RegisterClient{Nickname: "a", StakingCKB: 100, BetCKB: 10})

func connectTo(id pt.ClientID) string {
	return mustJSON(pt.ConnectClient{
		Requester: pt.ClientInfo{Nickname: "b", StakingCKB: 100, BetCKB: 10},
		ClientID:  id,
	})
}

func lobbyOf(ids ...pt.ClientID) string {
	if len(ids) == 0 {
		return `{"clients":[]}`
	}
	return fmt.Sprintf(`{"clients":[{"id":%d,"nickname":"a","staking_ckb":100,"bet_ckb":10}]}`, ids[0])
}

func TestRelay_LobbyListingAfterRegistration(t *testing.T) {
	srv := startRelay(t)
	a, b := join(t, srv), join(t, srv)

	assert.JSONEq(t, `{"result":true}`, call(t, a, pt.MethodRegisterClient, registerA))
	assert.JSONEq(t, lobbyOf(a.ID()), call(t, b, pt.MethodFetchClients, `{}`))
}

func TestRelay_SuccessfulPairing(t *testing.T) {
	srv := startRelay(t)
	a, b := join(t, srv), join(t, srv)
	answerProposals(a, true)

	call(t, a, pt.MethodRegisterClient, registerA)
	assert.JSONEq(t, `{"result":true}`, call(t, b, pt.MethodConnectClient, connectTo(a.ID())))
	assert.JSONEq(t, lobbyOf(), call(t, b, pt.MethodFetchClients, `{}`))
}

func TestRelay_RejectedProposalRollsBack(t *testing.T) {
	srv := startRelay(t)
	a, b := join(t, srv), join(t, srv)
	answerProposals(a, false)

	call(t, a, pt.MethodRegisterClient, registerA)
	assert.JSONEq(t, `{"result":false}`, call(t, b, pt.MethodConnectClient, connectTo(a.ID())))
	assert.JSONEq(t, lobbyOf(a.ID()), call(t, b, pt.MethodFetchClients, `{}`))
}

func TestRelay_ForwardingPreservesPayload(t *testing.T) {
	srv := startRelay(t)
	a, b := join(t, srv), join(t, srv)
	answerProposals(a, true)
	call(t, a, pt.MethodRegisterClient, registerA)
	require.JSONEq(t, `{"result":true}`, call(t, b, pt.MethodConnectClient, connectTo(a.ID())))

	got := make(chan string, 1)
	b.Handle(pt.MethodSyncOperation, func(_ context.Context, _ pt.ClientID, params json.RawMessage) (any, error) {
		got <- string(params)
		return json.RawMessage(`{"ack":"OP-42"}`), nil
	})

	assert.JSONEq(t, `{"ack":"OP-42"}`, call(t, a, pt.MethodSyncOperation, `{"opaque":"OP-42"}`))
	select {
	case params := <-got:
		assert.JSONEq(t, `{"opaque":"OP-42"}`, params)
	case <-time.After(2 * time.Second):
		t.Fatal("partner never saw the forwarded call")
	}
}

func TestRelay_PartnerErrorIsWrapped(t *testing.T) {
	srv := startRelay(t)
	a, b := join(t, srv), join(t, srv)
	answerProposals(a, true)
	call(t, a, pt.MethodRegisterClient, registerA)
	require.JSONEq(t, `{"result":true}`, call(t, b, pt.MethodConnectClient, connectTo(a.ID())))

	// a never bound close_kabletop_channel
	_, err := callErr(b, pt.MethodCloseKabletopChannel, `{}`)
	require.EqualError(t, err, "relay close_kabletop_channel error: unknown method close_kabletop_channel")
}

func TestRelay_PartnerDisconnect(t *testing.T) {
	srv := startRelay(t)
	a, b := join(t, srv), join(t, srv)
	answerProposals(a, true)
	notes := make(chan string, 2)
	b.Handle(pt.MethodPartnerDisconnect, func(_ context.Context, _ pt.ClientID, params json.RawMessage) (any, error) {
		notes <- string(params)
		return pt.Empty{}, nil
	})
	call(t, a, pt.MethodRegisterClient, registerA)
	require.JSONEq(t, `{"result":true}`, call(t, b, pt.MethodConnectClient, connectTo(a.ID())))

	require.NoError(t, a.Close())

	select {
	case params := <-notes:
		assert.JSONEq(t, fmt.Sprintf(`{"client_id":%d}`, a.ID()), params)
	case <-time.After(2 * time.Second):
		t.Fatal("partner_disconnect never arrived")
	}

	_, err := callErr(b, pt.MethodSwitchRound, `{}`)
	require.EqualError(t, err, fmt.Sprintf("relay switch_round error: unchained client_id(%d)", b.ID()))

	select {
	case extra := <-notes:
		t.Fatalf("second partner_disconnect: %s", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelay_UnpairedForwardingIsRejected(t *testing.T) {
	srv := startRelay(t)
	c := join(t, srv)

	_, err := callErr(c, pt.MethodSwitchRound, `{"round":1}`)
	require.EqualError(t, err, fmt.Sprintf("relay switch_round error: unchained client_id(%d)", c.ID()))
}

func TestRelay_DecodeErrorReachesCaller(t *testing.T) {
	srv := startRelay(t)
	c := join(t, srv)

	_, err := callErr(c, pt.MethodRegisterClient, `{"staking_ckb":1,"bet_ckb":1}`)
	require.EqualError(t, err, "deserialize RegisterClient -> missing field `nickname`")
}

func TestRelay_ClientsEndpoint(t *testing.T) {
	srv := startRelay(t)
	a := join(t, srv)
	call(t, a, pt.MethodRegisterClient, registerA)

	resp, err := http.Get("http://" + srv.Addr().String() + "/clients")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap pt.LobbySnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, []pt.ClientInfo{{ID: a.ID(), Nickname: "a", StakingCKB: 100, BetCKB: 10}}, snap.Clients)
	assert.Equal(t, 1, snap.Sessions)
}

func TestRelay_BindFailureAbortsStart(t *testing.T) {
	srv := startRelay(t)

	cfg := testConfig()
	cfg.ListenAddr = srv.Addr().String()
	app := fx.New(fx.Supply(cfg), Module, fx.NopLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, app.Start(ctx))
}

// rawSession sends requests without waiting for answers and then drops the
// connection.
func rawSession(t *testing.T, srv *Server, methods []string, params []string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	for i, method := range methods {
		data, err := types.Encode(&types.Frame{
			Type:   types.FrameRequest,
			ID:     fmt.Sprint(i),
			Method: method,
			Params: json.RawMessage(params[i]),
		})
		require.NoError(t, err)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
	}
	_ = conn.CloseNow()
}

// assertSettled waits for every session to go and checks that nothing is
// left behind in the lobby.
func assertSettled(t *testing.T, srv *Server, advertised int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.transport.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		v, err := srv.lobby.View(context.Background())
		return err == nil && len(v.Advertised) == advertised && v.Pairings == 0
	}, 5*time.Second, 10*time.Millisecond)

	// anything still running for a dead session would land by now
	time.Sleep(200 * time.Millisecond)
	srv.svc.Wait()
	v, err := srv.lobby.View(context.Background())
	require.NoError(t, err)
	assert.Len(t, v.Advertised, advertised)
	assert.Zero(t, v.Pairings)
}

func TestRelay_RequestsRacingDisconnectLeaveNothingBehind(t *testing.T) {
	srv := startRelay(t)

	for i := 0; i < 200; i++ {
		methods := []string{pt.MethodFetchClients, pt.MethodRegisterClient}
		params := []string{`{}`, registerA}
		if i%3 == 0 {
			methods, params = methods[1:], params[1:]
		}
		rawSession(t, srv, methods, params)
	}

	assertSettled(t, srv, 0)
}

func TestRelay_ConnectRacingRequesterDisconnect(t *testing.T) {
	srv := startRelay(t)
	a := join(t, srv)
	answerProposals(a, true)
	notes := make(chan string, 64)
	a.Handle(pt.MethodPartnerDisconnect, func(_ context.Context, _ pt.ClientID, params json.RawMessage) (any, error) {
		notes <- string(params)
		return pt.Empty{}, nil
	})

	for i := 0; i < 20; i++ {
		require.JSONEq(t, `{"result":true}`, call(t, a, pt.MethodRegisterClient, registerA))
		rawSession(t, srv, []string{pt.MethodConnectClient}, []string{connectTo(a.ID())})

		// a ends up either still advertised or notified of its vanished partner
		require.Eventually(t, func() bool { return srv.transport.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool {
			v, err := srv.lobby.View(context.Background())
			return err == nil && v.Pairings == 0
		}, 5*time.Second, 10*time.Millisecond)
		srv.svc.Wait()
		_, paired, err := srv.lobby.PartnerOf(context.Background(), a.ID())
		require.NoError(t, err)
		require.False(t, paired)
		_, _ = callErr(a, pt.MethodUnregisterClient, `{}`)
	}

	require.NoError(t, a.Close())
	assertSettled(t, srv, 0)
}
