// Package roomauth decides whether a wallet may create, join or play in a room.
// It never mutates rooms.
package roomauth

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/cheese-escrow/internal/identity"
	"github.com/park285/cheese-escrow/internal/msgcat"
	"github.com/park285/cheese-escrow/internal/obslog"
	"github.com/park285/cheese-escrow/internal/room"
	"go.uber.org/zap"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionJoin   Action = "join"
	ActionPlay   Action = "play"
	// ActionEscrow covers on-chain escrow moves by a seated player of a live room.
	ActionEscrow Action = "escrow"
)

func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionCreate:
		return ActionCreate, true
	case ActionJoin:
		return ActionJoin, true
	case ActionPlay:
		return ActionPlay, true
	case ActionEscrow:
		return ActionEscrow, true
	}
	return "", false
}

// Reason codes carried in Result.Code.
const (
	CodeInvalidArgs      = "invalid_args"
	CodeUnknownAction    = "unknown_action"
	CodeInvalidSignature = "invalid_signature"
	CodeExpiredSignature = "expired_signature"
	CodeRoomNotFound     = "room_not_found"
	CodeRoomExists       = "room_exists"
	CodeRoomInactive     = "room_inactive"
	CodeRoomHasJoiner    = "room_has_joiner"
	CodeNotAuthorized    = "not_authorized"
	CodeNotPlayer        = "not_player"
	CodeSelfJoin         = "self_join"
	CodeLookupFailed     = "lookup_failed"
)

type Request struct {
	RoomCode        string
	WalletAddress   string
	Signature       string
	SignatureTimeMs int64
	Action          Action
}

// Result is returned for every request; failures are values, not errors.
type Result struct {
	Valid       bool
	CanCreate   bool
	IsCompleted bool
	IsCancelled bool
	IsActive    bool
	IsCreator   bool
	IsJoiner    bool
	CanJoin     bool
	CanPlay     bool
	Room        *room.Room
	Code        string
	Error       string
}

// Verifier is the subset of identity.Verifier used here.
type Verifier interface {
	Verify(signature, claimed string, timestampMs int64) error
}

type Service struct {
	rooms    room.Store
	verifier Verifier
	msgs     *msgcat.Catalog
	logger   *zap.Logger
}

func NewService(rooms room.Store, verifier Verifier, msgs *msgcat.Catalog, logger *zap.Logger) *Service {
	if msgs == nil {
		msgs = msgcat.Default()
	}
	return &Service{rooms: rooms, verifier: verifier, msgs: msgs, logger: obslog.Or(logger, "roomauth")}
}

func (s *Service) Authorize(ctx context.Context, req Request) Result {
	code := strings.TrimSpace(req.RoomCode)
	wallet := strings.TrimSpace(req.WalletAddress)
	if code == "" || wallet == "" {
		return s.deny(Result{}, CodeInvalidArgs, "auth.invalid_args")
	}
	switch req.Action {
	case ActionCreate, ActionJoin, ActionPlay, ActionEscrow:
	default:
		return s.deny(Result{}, CodeUnknownAction, "auth.unknown_action")
	}

	if strings.TrimSpace(req.Signature) != "" {
		if res, ok := s.Identify(wallet, req.Signature, req.SignatureTimeMs); !ok {
			return res
		}
	}

	r, err := s.rooms.Get(ctx, code)
	if err != nil {
		s.logger.Warn("room_lookup_error", zap.String("room_code", code), zap.Error(err))
		return s.deny(Result{}, CodeLookupFailed, "tx.error.network")
	}
	if r == nil {
		if req.Action == ActionCreate {
			return Result{Valid: true, CanCreate: true}
		}
		return s.deny(Result{}, CodeRoomNotFound, "auth.room_not_found")
	}

	res := Derive(r, wallet)
	switch req.Action {
	case ActionCreate:
		return s.deny(res, CodeRoomExists, "auth.room_exists")
	case ActionJoin:
		if res.IsCompleted || res.IsCancelled {
			return s.deny(res, CodeRoomInactive, "auth.room_inactive")
		}
		if !res.CanJoin {
			return s.deny(res, CodeRoomHasJoiner, "auth.room_has_joiner")
		}
	case ActionPlay:
		if !res.CanPlay {
			return s.deny(res, CodeNotAuthorized, "auth.not_authorized")
		}
	case ActionEscrow:
		if res.IsCompleted || res.IsCancelled {
			return s.deny(res, CodeRoomInactive, "auth.room_inactive")
		}
		if !res.IsCreator && !res.IsJoiner {
			return s.deny(res, CodeNotPlayer, "auth.not_player")
		}
	}
	res.Valid = true
	return res
}

// Identify checks that signature proves control of wallet. A missing
// signature is invalid here.
func (s *Service) Identify(wallet, signature string, timestampMs int64) (Result, bool) {
	if strings.TrimSpace(wallet) == "" {
		return s.deny(Result{}, CodeInvalidArgs, "auth.invalid_args"), false
	}
	if err := s.verifySignature(signature, strings.TrimSpace(wallet), timestampMs); err != nil {
		if errors.Is(err, identity.ErrExpiredSignature) {
			return s.deny(Result{}, CodeExpiredSignature, "auth.expired_signature"), false
		}
		return s.deny(Result{}, CodeInvalidSignature, "auth.invalid_signature"), false
	}
	return Result{Valid: true}, true
}

func (s *Service) verifySignature(sig, wallet string, ts int64) error {
	if s.verifier == nil {
		return identity.ErrInvalidSignature
	}
	return s.verifier.Verify(sig, wallet, ts)
}

// Derive computes the per-wallet view of r used by clients to drive UI state.
func Derive(r *room.Room, wallet string) Result {
	res := Result{Room: r}
	if r == nil {
		return res
	}
	res.IsCompleted = r.GameStatus == room.StatusCompleted
	res.IsCancelled = r.GameStatus == room.StatusCancelled
	res.IsActive = r.GameStatus == room.StatusActive || r.GameStatus == room.StatusInProgress
	res.IsCreator = r.IsCreator(wallet)
	res.IsJoiner = r.IsJoiner(wallet)
	res.CanJoin = !r.HasJoiner() || res.IsJoiner
	res.CanPlay = (res.IsCreator || res.IsJoiner) && r.GameStatus == room.StatusInProgress
	return res
}

func (s *Service) deny(res Result, code, key string) Result {
	res.Valid = false
	res.Code = code
	res.Error = s.msgs.Text(key, nil)
	s.logger.Debug("authorize_denied", zap.String("code", code))
	return res
}
