package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-escrow/internal/escrow"
	"github.com/park285/cheese-escrow/internal/identity"
	"github.com/park285/cheese-escrow/internal/room"
	"github.com/park285/cheese-escrow/internal/roomauth"
	"github.com/park285/cheese-escrow/internal/rpcrelay"
	"github.com/park285/cheese-escrow/internal/txlife"
	"github.com/park285/cheese-escrow/pkg/escrowdto"
)

const authMessage = "Sign in to Cheese Escrow Chess"

var contract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type chain struct {
	mu     sync.Mutex
	ids    map[string]uint64
	orders map[uint64]*escrow.Order
}

func (c *chain) put(o escrow.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[o.RoomCode] = o.OrderID
	c.orders[o.OrderID] = &o
}

func (c *chain) OrderIDByRoomCode(_ context.Context, code string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[code], nil
}

func (c *chain) OrderByID(_ context.Context, id uint64) (*escrow.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return nil, escrow.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (c *chain) ActiveOrderIDs(context.Context) ([]uint64, error) { return nil, nil }

type wallet struct {
	addr common.Address
	sent int
}

func (w *wallet) Address() common.Address { return w.addr }
func (w *wallet) Send(context.Context, common.Address, []byte) (common.Hash, error) {
	w.sent++
	return common.BytesToHash([]byte{0xcd, byte(w.sent)}), nil
}

type env struct {
	ts     *httptest.Server
	store  *room.MemoryStore
	chain  *chain
	rec    *escrow.Reconciler
	wallet *wallet
}

func newEnv(t *testing.T) *env {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x7a69"}`))
	}))
	t.Cleanup(upstream.Close)

	e := &env{
		store:  room.NewMemoryStore(),
		chain:  &chain{ids: map[string]uint64{}, orders: map[uint64]*escrow.Order{}},
		wallet: &wallet{addr: common.HexToAddress("0x00000000000000000000000000000000000000b2")},
	}
	e.rec = escrow.NewReconciler(e.chain, escrow.NewCache())
	rooms := room.NewManager(e.store)
	ctrl := txlife.NewController(txlife.Config{SettleDelay: time.Hour})
	t.Cleanup(ctrl.Close)

	srv := New(Deps{
		Rooms:      rooms,
		Auth:       roomauth.NewService(e.store, identity.NewVerifier(authMessage), nil, nil),
		Reconciler: e.rec,
		Relay:      rpcrelay.NewUpstream(upstream.URL),
		Escrow: txlife.NewEscrow(txlife.EscrowDeps{
			Controller: ctrl, Wallet: e.wallet, Contract: contract, Reconciler: e.rec, Rooms: rooms,
		}),
		RoomStore: "memory",
		Origins:   []string{"cheese.example"},
	})
	e.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(e.ts.Close)
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func sign(t *testing.T) (addr, sig string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	raw, err := crypto.Sign(accounts.TextHash([]byte(authMessage)), key)
	require.NoError(t, err)
	raw[crypto.RecoveryIDOffset] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(raw)
}

func TestResolveShortHash(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.Insert(ctx, &room.Room{ID: "id-1", RoomCode: "GONE01", ShortHash: "X1Y2Z3A4", WhitePlayer: "0xAAA", GameStatus: room.StatusCompleted}))
	require.NoError(t, e.store.Insert(ctx, &room.Room{ID: "id-2", RoomCode: "LIVE01", ShortHash: "LIVEHASH", WhitePlayer: "0xAAA", GameStatus: room.StatusWaiting}))

	resp, body := e.do(t, http.MethodGet, "/api/rooms/resolve/X1Y2Z3A4", nil)
	require.Equal(t, http.StatusGone, resp.StatusCode)
	require.Equal(t, true, body["completed"])
	_, has := body["needsVerification"]
	require.False(t, has)
	require.Equal(t, "This game has already completed", body["message"])

	resp, body = e.do(t, http.MethodGet, "/api/rooms/resolve/LIVEHASH", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["needsVerification"])
	require.Equal(t, "id-2", body["room_id"])
	require.Nil(t, body["black_player"])

	resp, _ = e.do(t, http.MethodGet, "/api/rooms/resolve/NOPE0000", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJoinAuthorizedBeforeFunding(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.Insert(ctx, &room.Room{ID: "id-1", RoomCode: "R1", ShortHash: "HASHR1AA", WhitePlayer: "0xAAA", GameStatus: room.StatusWaiting}))

	resp, body := e.do(t, http.MethodPost, "/api/rooms/validate", escrowdto.ValidateRequest{RoomCode: "R1", WalletAddress: "0xBBB", Action: "join"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["valid"])
	require.Equal(t, true, body["canJoin"])

	resp, body = e.do(t, http.MethodGet, "/api/rooms/R1/order", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "order")
	require.Nil(t, body["order"])
}

func TestValidateCreateOnExistingRoom(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.Insert(context.Background(), &room.Room{ID: "id-1", RoomCode: "R1", ShortHash: "HASHR1AA", WhitePlayer: "0xAAA", GameStatus: room.StatusWaiting}))

	_, body := e.do(t, http.MethodPost, "/api/rooms/validate", escrowdto.ValidateRequest{RoomCode: "R1", WalletAddress: "0xCCC", Action: "create"})
	require.Equal(t, false, body["valid"])
	require.Equal(t, "Room already exists", body["error"])
}

func TestCreateAndJoinRoom(t *testing.T) {
	e := newEnv(t)
	creator, creatorSig := sign(t)
	joiner, joinerSig := sign(t)
	now := time.Now().UnixMilli()

	resp, body := e.do(t, http.MethodPost, "/api/rooms", escrowdto.CreateRoomRequest{
		RoomCode: "ROOM42", WalletAddress: creator, WalletSignature: creatorSig, SignatureTimestamp: now,
		GameCurrency: "USDC", GameSize: "25",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "waiting", body["game_status"])

	resp, _ = e.do(t, http.MethodPost, "/api/rooms", escrowdto.CreateRoomRequest{
		RoomCode: "ROOM42", WalletAddress: creator, WalletSignature: creatorSig, SignatureTimestamp: now,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/api/rooms/ROOM42/join", escrowdto.JoinRoomRequest{
		WalletAddress: joiner, WalletSignature: creatorSig, SignatureTimestamp: now,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Invalid signature", body["error"])

	resp, body = e.do(t, http.MethodPost, "/api/rooms/ROOM42/join", escrowdto.JoinRoomRequest{
		WalletAddress: joiner, WalletSignature: joinerSig, SignatureTimestamp: now,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "active", body["game_status"])
	require.True(t, strings.EqualFold(joiner, body["black_player"].(string)))
}

func TestExpiredSignatureRejected(t *testing.T) {
	e := newEnv(t)
	creator, sig := sign(t)
	resp, body := e.do(t, http.MethodPost, "/api/rooms", escrowdto.CreateRoomRequest{
		WalletAddress: creator, WalletSignature: sig, SignatureTimestamp: time.Now().Add(-10 * time.Minute).UnixMilli(),
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, roomauth.CodeExpiredSignature, body["code"])
}

func TestRPCRelay(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/rpc", map[string]any{"method": "eth_chainId", "params": []any{}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "0x7a69", body["result"])

	_, body = e.do(t, http.MethodPost, "/api/rpc", map[string]any{"method": "personal_sign"})
	require.Equal(t, "2.0", body["jsonrpc"])
	errObj := body["error"].(map[string]any)
	require.Equal(t, float64(rpcrelay.CodeMethodDenied), errObj["code"])
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "0x7a69", body["chainId"])
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t)
	req, err := http.NewRequest(http.MethodOptions, e.ts.URL+"/api/rooms/validate", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://play.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://play.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestTxEndpoints(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creator, creatorSig := sign(t)
	joiner, joinerSig := sign(t)
	now := time.Now().UnixMilli()
	token := "0x00000000000000000000000000000000000000c3"
	require.NoError(t, e.store.Insert(ctx, &room.Room{ID: "id-1", RoomCode: "SELF01", ShortHash: "SELFHASH", WhitePlayer: creator, BlackPlayer: joiner, GameStatus: room.StatusActive}))
	require.NoError(t, e.store.Insert(ctx, &room.Room{ID: "id-2", RoomCode: "NEW001", ShortHash: "NEWHASH1", WhitePlayer: creator, GameStatus: room.StatusWaiting}))
	e.chain.put(escrow.Order{OrderID: 1, Creator: e.wallet.addr, Amount: big.NewInt(5), Status: escrow.StatusOpen, RoomCode: "SELF01"})

	resp, body := e.do(t, http.MethodPost, "/api/tx/acceptOrder", escrowdto.TxRequest{
		RoomCode: "SELF01", WalletAddress: joiner, WalletSignature: joinerSig, SignatureTimestamp: now,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "self_accept", body["error"].(map[string]any)["code"])
	require.Zero(t, e.wallet.sent)

	resp, body = e.do(t, http.MethodPost, "/api/tx/createOrder", escrowdto.TxRequest{
		RoomCode: "NEW001", WalletAddress: creator, WalletSignature: creatorSig, SignatureTimestamp: now,
		Token: token, Amount: "1000",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, body["hash"])
	require.Equal(t, "success", body["record"].(map[string]any)["status"])
	require.Equal(t, 1, e.wallet.sent)

	_, body = e.do(t, http.MethodGet, "/api/tx/slots/NEW001", nil)
	require.Equal(t, "createOrder", body["action"])

	list, err := http.Get(e.ts.URL + "/api/tx/slots")
	require.NoError(t, err)
	defer list.Body.Close()
	var recs []escrowdto.TxRecord
	require.NoError(t, json.NewDecoder(list.Body).Decode(&recs))
	require.Len(t, recs, 2)
	require.Equal(t, "NEW001", recs[0].Slot)
	require.Equal(t, "SELF01", recs[1].Slot)
	require.Equal(t, "acceptOrder", recs[1].Action)

	resp, _ = e.do(t, http.MethodPost, "/api/tx/createOrder", escrowdto.TxRequest{
		RoomCode: "NEW001", WalletAddress: creator, WalletSignature: creatorSig, SignatureTimestamp: now,
		Token: "nope", Amount: "1",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/tx/withdraw", escrowdto.TxRequest{RoomCode: "NEW001"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, 1, e.wallet.sent)
}

func TestTxEndpointsRequireSignedPlayer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creator, creatorSig := sign(t)
	joiner, joinerSig := sign(t)
	outsider, outsiderSig := sign(t)
	now := time.Now().UnixMilli()
	token := "0x00000000000000000000000000000000000000c3"
	require.NoError(t, e.store.Insert(ctx, &room.Room{ID: "id-1", RoomCode: "R1", ShortHash: "HASHR1AA", WhitePlayer: creator, BlackPlayer: joiner, GameStatus: room.StatusActive}))
	require.NoError(t, e.store.Insert(ctx, &room.Room{ID: "id-2", RoomCode: "DONE01", ShortHash: "DONEHASH", WhitePlayer: creator, GameStatus: room.StatusCompleted}))

	cases := []struct {
		name   string
		action string
		req    escrowdto.TxRequest
		status int
		code   string
	}{
		{"unsigned", "createOrder", escrowdto.TxRequest{RoomCode: "R1", WalletAddress: creator, Token: token, Amount: "1000"}, http.StatusUnauthorized, roomauth.CodeInvalidSignature},
		{"unknown room", "createOrder", escrowdto.TxRequest{RoomCode: "NOROOM", WalletAddress: creator, WalletSignature: creatorSig, SignatureTimestamp: now, Token: token, Amount: "1000"}, http.StatusNotFound, roomauth.CodeRoomNotFound},
		{"foreign signature", "cancelOrder", escrowdto.TxRequest{RoomCode: "R1", WalletAddress: creator, WalletSignature: outsiderSig, SignatureTimestamp: now}, http.StatusUnauthorized, roomauth.CodeInvalidSignature},
		{"outsider", "approve", escrowdto.TxRequest{RoomCode: "R1", WalletAddress: outsider, WalletSignature: outsiderSig, SignatureTimestamp: now, Token: token, Amount: "1"}, http.StatusForbidden, roomauth.CodeNotPlayer},
		{"joiner creates", "createOrder", escrowdto.TxRequest{RoomCode: "R1", WalletAddress: joiner, WalletSignature: joinerSig, SignatureTimestamp: now, Token: token, Amount: "1000"}, http.StatusForbidden, roomauth.CodeNotPlayer},
		{"creator accepts", "acceptOrder", escrowdto.TxRequest{RoomCode: "R1", WalletAddress: creator, WalletSignature: creatorSig, SignatureTimestamp: now}, http.StatusForbidden, roomauth.CodeNotPlayer},
		{"complete before play", "completeGame", escrowdto.TxRequest{RoomCode: "R1", WalletAddress: creator, WalletSignature: creatorSig, SignatureTimestamp: now}, http.StatusForbidden, roomauth.CodeNotAuthorized},
		{"finished room", "cancelOrder", escrowdto.TxRequest{RoomCode: "DONE01", WalletAddress: creator, WalletSignature: creatorSig, SignatureTimestamp: now}, http.StatusGone, roomauth.CodeRoomInactive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := e.do(t, http.MethodPost, "/api/tx/"+tc.action, tc.req)
			require.Equal(t, tc.status, resp.StatusCode)
			code, _ := body["code"].(string)
			if errObj, ok := body["error"].(map[string]any); ok {
				code, _ = errObj["code"].(string)
			}
			require.Equal(t, tc.code, code)
		})
	}
	require.Zero(t, e.wallet.sent)
}

func TestCreatorCannotJoinOwnRoom(t *testing.T) {
	e := newEnv(t)
	creator, sig := sign(t)
	now := time.Now().UnixMilli()
	resp, _ := e.do(t, http.MethodPost, "/api/rooms", escrowdto.CreateRoomRequest{
		RoomCode: "MINE01", WalletAddress: creator, WalletSignature: sig, SignatureTimestamp: now,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/api/rooms/MINE01/join", escrowdto.JoinRoomRequest{
		WalletAddress: creator, WalletSignature: sig, SignatureTimestamp: now,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	errObj := body["error"].(map[string]any)
	require.Equal(t, roomauth.CodeSelfJoin, errObj["code"])
	require.Equal(t, "Creator cannot join own room", errObj["message"])
}

func TestOrderFeed(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/api/rooms/FEED01/order/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first escrowdto.OrderResponse
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.Equal(t, "FEED01", first.RoomCode)
	require.Nil(t, first.Order)

	e.chain.put(escrow.Order{OrderID: 9, Creator: common.HexToAddress("0xa1"), Amount: big.NewInt(7), Status: escrow.StatusOpen, RoomCode: "FEED01"})
	_, err = e.rec.FetchOrder(ctx, "FEED01")
	require.NoError(t, err)

	var next escrowdto.OrderResponse
	require.NoError(t, wsjson.Read(ctx, conn, &next))
	require.NotNil(t, next.Order)
	require.Equal(t, uint64(9), next.Order.OrderID)
	require.Equal(t, "open", next.Order.Status)
	require.Equal(t, "7", next.Order.Amount)
	require.Greater(t, next.Version, first.Version)
}

func TestOrderFeedChecksOrigin(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/api/rooms/FEED02/order/ws"

	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://cheese.example"}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first escrowdto.OrderResponse
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.Equal(t, "FEED02", first.RoomCode)
}
