package roomauth

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/park285/cheese-escrow/internal/identity"
	"github.com/park285/cheese-escrow/internal/room"
	"github.com/stretchr/testify/require"
)

const authMsg = "Sign in to Cheese Escrow Chess"

type fixture struct {
	svc   *Service
	rooms *room.Manager
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	store := room.NewMemoryStore()
	v := identity.NewVerifier(authMsg, identity.WithClock(func() time.Time { return now }))
	return &fixture{svc: NewService(store, v, nil, nil), rooms: room.NewManager(store), now: now}
}

func sign(t *testing.T, msg string) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestCreateOnMissingRoom(t *testing.T) {
	f := newFixture(t)
	res := f.svc.Authorize(context.Background(), Request{RoomCode: "R1", WalletAddress: "0xAAA", Action: ActionCreate})
	require.True(t, res.Valid)
	require.True(t, res.CanCreate)
}

func TestNonCreateOnMissingRoom(t *testing.T) {
	f := newFixture(t)
	for _, a := range []Action{ActionJoin, ActionPlay} {
		res := f.svc.Authorize(context.Background(), Request{RoomCode: "R1", WalletAddress: "0xAAA", Action: a})
		require.False(t, res.Valid)
		require.Equal(t, CodeRoomNotFound, res.Code)
		require.Equal(t, "Room not found", res.Error)
	}
}

func TestCreateOnExistingRoomFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.rooms.Create(ctx, room.CreateParams{RoomCode: "R1", Creator: "0xAAA"})
	require.NoError(t, err)

	res := f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xAAA", Action: ActionCreate})
	require.False(t, res.Valid)
	require.Equal(t, "Room already exists", res.Error)
	require.True(t, res.IsCreator)
}

func TestJoinBeforeEscrowFunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.rooms.Create(ctx, room.CreateParams{RoomCode: "R1", Creator: "0xAAA"})
	require.NoError(t, err)

	res := f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xBBB", Action: ActionJoin})
	require.True(t, res.Valid)
	require.True(t, res.CanJoin)
	require.False(t, res.IsCreator)
}

func TestJoinWhenOtherJoinerSeated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.rooms.Create(ctx, room.CreateParams{RoomCode: "R1", Creator: "0xAAA"})
	require.NoError(t, err)
	_, err = f.rooms.Join(ctx, "R1", "0xBBB")
	require.NoError(t, err)

	res := f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xCCC", Action: ActionJoin})
	require.False(t, res.Valid)
	require.Equal(t, "Room already has a joiner", res.Error)

	again := f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xbbb", Action: ActionJoin})
	require.True(t, again.Valid, "existing joiner may rejoin")
	require.True(t, again.IsJoiner)
}

func TestJoinTerminalRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.rooms.Create(ctx, room.CreateParams{RoomCode: "R1", Creator: "0xAAA"})
	require.NoError(t, err)
	_, err = f.rooms.Advance(ctx, "R1", room.StatusCompleted)
	require.NoError(t, err)

	res := f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xBBB", Action: ActionJoin})
	require.False(t, res.Valid)
	require.Equal(t, CodeRoomInactive, res.Code)
	require.True(t, res.IsCompleted)
}

func TestPlayRequiresParticipantAndInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.rooms.Create(ctx, room.CreateParams{RoomCode: "R1", Creator: "0xAAA"})
	require.NoError(t, err)
	_, err = f.rooms.Join(ctx, "R1", "0xBBB")
	require.NoError(t, err)

	res := f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xAAA", Action: ActionPlay})
	require.False(t, res.Valid, "active but not in progress")
	require.True(t, res.IsActive)

	_, err = f.rooms.Advance(ctx, "R1", room.StatusInProgress)
	require.NoError(t, err)
	require.True(t, f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xAAA", Action: ActionPlay}).Valid)
	require.True(t, f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xBBB", Action: ActionPlay}).Valid)

	outsider := f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xCCC", Action: ActionPlay})
	require.False(t, outsider.Valid)
	require.Equal(t, CodeNotAuthorized, outsider.Code)
}

func TestMismatchedSignatureRejectedForEveryAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sig, _ := sign(t, authMsg)
	_, other := sign(t, authMsg)
	_, err := f.rooms.Create(ctx, room.CreateParams{RoomCode: "R2", Creator: other})
	require.NoError(t, err)

	for _, code := range []string{"R1", "R2"} {
		for _, a := range []Action{ActionCreate, ActionJoin, ActionPlay} {
			res := f.svc.Authorize(ctx, Request{RoomCode: code, WalletAddress: other, Signature: sig, SignatureTimeMs: f.now.UnixMilli(), Action: a})
			require.False(t, res.Valid)
			require.Equal(t, CodeInvalidSignature, res.Code)
			require.Equal(t, "Invalid signature", res.Error)
		}
	}
}

func TestStaleSignatureRejectedAsExpired(t *testing.T) {
	f := newFixture(t)
	sig, addr := sign(t, authMsg)
	res := f.svc.Authorize(context.Background(), Request{
		RoomCode: "R1", WalletAddress: addr, Signature: sig,
		SignatureTimeMs: f.now.Add(-6 * time.Minute).UnixMilli(), Action: ActionCreate,
	})
	require.False(t, res.Valid)
	require.Equal(t, CodeExpiredSignature, res.Code)
}

func TestValidSignatureAllowsCreate(t *testing.T) {
	f := newFixture(t)
	sig, addr := sign(t, authMsg)
	res := f.svc.Authorize(context.Background(), Request{
		RoomCode: "R1", WalletAddress: addr, Signature: sig,
		SignatureTimeMs: f.now.Add(-time.Minute).UnixMilli(), Action: ActionCreate,
	})
	require.True(t, res.Valid)
}

func TestMissingArgsAndUnknownAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, CodeInvalidArgs, f.svc.Authorize(ctx, Request{WalletAddress: "0xAAA", Action: ActionJoin}).Code)
	require.Equal(t, CodeUnknownAction, f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xAAA", Action: "spectate"}).Code)
}

func TestEscrowRequiresSeatedPlayerOfLiveRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.rooms.Create(ctx, room.CreateParams{RoomCode: "R1", Creator: "0xAAA"})
	require.NoError(t, err)

	require.True(t, f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xaaa", Action: ActionEscrow}).Valid)

	outsider := f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xBBB", Action: ActionEscrow})
	require.False(t, outsider.Valid)
	require.Equal(t, CodeNotPlayer, outsider.Code)
	require.Equal(t, "Only the players of this room can do that", outsider.Error)

	_, err = f.rooms.Join(ctx, "R1", "0xBBB")
	require.NoError(t, err)
	joiner := f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xBBB", Action: ActionEscrow})
	require.True(t, joiner.Valid)
	require.True(t, joiner.IsJoiner)

	_, err = f.rooms.Cancel(ctx, "R1")
	require.NoError(t, err)
	require.Equal(t, CodeRoomInactive, f.svc.Authorize(ctx, Request{RoomCode: "R1", WalletAddress: "0xAAA", Action: ActionEscrow}).Code)

	missing := f.svc.Authorize(ctx, Request{RoomCode: "NOROOM", WalletAddress: "0xAAA", Action: ActionEscrow})
	require.Equal(t, CodeRoomNotFound, missing.Code)
}
