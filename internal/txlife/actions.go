package txlife

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/park285/cheese-escrow/internal/escrow"
	"github.com/park285/cheese-escrow/internal/obslog"
	"github.com/park285/cheese-escrow/internal/room"
)

// RoomSyncer applies confirmed chain state to the room record.
type RoomSyncer interface {
	Advance(ctx context.Context, code string, to room.Status) (*room.Room, error)
}

// AllowanceReader reads the token allowance granted to the escrow contract.
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Escrow runs the escrow contract's write calls through a Controller.
type Escrow struct {
	ctrl      *Controller
	wallet    Wallet
	contract  common.Address
	rec       *escrow.Reconciler
	rooms     RoomSyncer
	allowance AllowanceReader
	now       func() time.Time
	logger    *zap.Logger
}

type EscrowDeps struct {
	Controller *Controller
	Wallet     Wallet
	Contract   common.Address
	Reconciler *escrow.Reconciler
	Rooms      RoomSyncer
	Allowance  AllowanceReader
	Now        func() time.Time
	Logger     *zap.Logger
}

func NewEscrow(d EscrowDeps) *Escrow {
	e := &Escrow{
		ctrl:      d.Controller,
		wallet:    d.Wallet,
		contract:  d.Contract,
		rec:       d.Reconciler,
		rooms:     d.Rooms,
		allowance: d.Allowance,
		now:       d.Now,
		logger:    obslog.Or(d.Logger, "txlife.escrow"),
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Escrow) Controller() *Controller { return e.ctrl }
func (e *Escrow) Wallet() Wallet          { return e.wallet }

func (e *Escrow) send(to common.Address, pack func() ([]byte, error)) Call {
	return func(ctx context.Context) (common.Hash, error) {
		data, err := pack()
		if err != nil {
			return common.Hash{}, err
		}
		return e.wallet.Send(ctx, to, data)
	}
}

func packEscrow(method string, args ...any) func() ([]byte, error) {
	return func() ([]byte, error) {
		parsed := escrow.ParsedEscrowABI()
		return parsed.Pack(method, args...)
	}
}

// Approve lets the escrow contract spend amount of token. slot is usually the
// room code the approval is for.
func (e *Escrow) Approve(ctx context.Context, slot string, token common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, errors.New("txlife: approve amount must be positive")
	}
	call := e.send(token, func() ([]byte, error) {
		parsed := escrow.ParsedERC20ABI()
		return parsed.Pack("approve", e.contract, amount)
	})
	var task *Task
	if e.allowance != nil {
		owner := e.wallet.Address()
		task = &Task{Predicate: func(ctx context.Context) (bool, error) {
			v, err := e.allowance.Allowance(ctx, token, owner)
			if err != nil {
				return false, err
			}
			return v.Cmp(amount) >= 0, nil
		}}
	}
	return e.ctrl.Execute(ctx, slot, ActionApprove, call, "", task, nil)
}

// CreateOrder funds escrow for roomCode. The room's cache entry moves from
// absent to an open order once the chain catches up.
func (e *Escrow) CreateOrder(ctx context.Context, roomCode string, token common.Address, amount *big.Int) (common.Hash, error) {
	code := strings.TrimSpace(roomCode)
	if code == "" || amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, errors.New("txlife: room code and positive amount required")
	}
	call := e.send(e.contract, packEscrow("createOrder", token, amount, code))
	return e.ctrl.Execute(ctx, code, ActionCreateOrder, call, "", e.waitFor(code, escrow.StatusOpen), e.syncRoom(code))
}

// AcceptOrder takes the other side of the room's open order.
func (e *Escrow) AcceptOrder(ctx context.Context, roomCode string) (common.Hash, error) {
	code := strings.TrimSpace(roomCode)
	call := func(ctx context.Context) (common.Hash, error) {
		o, err := e.currentOrder(ctx, code)
		if err != nil {
			return common.Hash{}, err
		}
		if err := e.precheckAccept(o); err != nil {
			return common.Hash{}, err
		}
		return e.send(e.contract, packEscrow("acceptOrder", new(big.Int).SetUint64(o.OrderID)))(ctx)
	}
	return e.ctrl.Execute(ctx, code, ActionAcceptOrder, call, "", e.waitFor(code, escrow.StatusAccepted, escrow.StatusCompleted), e.syncRoom(code))
}

// CancelOrder withdraws the creator's unaccepted order.
func (e *Escrow) CancelOrder(ctx context.Context, roomCode string) (common.Hash, error) {
	code := strings.TrimSpace(roomCode)
	call := func(ctx context.Context) (common.Hash, error) {
		o, err := e.currentOrder(ctx, code)
		if err != nil {
			return common.Hash{}, err
		}
		if o.Creator != e.wallet.Address() {
			return common.Hash{}, &TxError{Kind: KindNotCreator}
		}
		return e.send(e.contract, packEscrow("cancelOrder", new(big.Int).SetUint64(o.OrderID)))(ctx)
	}
	return e.ctrl.Execute(ctx, code, ActionCancelOrder, call, "", e.waitFor(code, escrow.StatusCancelled), e.syncRoom(code))
}

// CompleteGame settles the room's order.
func (e *Escrow) CompleteGame(ctx context.Context, roomCode string) (common.Hash, error) {
	code := strings.TrimSpace(roomCode)
	call := func(ctx context.Context) (common.Hash, error) {
		o, err := e.currentOrder(ctx, code)
		if err != nil {
			return common.Hash{}, err
		}
		return e.send(e.contract, packEscrow("completeGame", new(big.Int).SetUint64(o.OrderID)))(ctx)
	}
	return e.ctrl.Execute(ctx, code, ActionCompleteGame, call, "", e.waitFor(code, escrow.StatusCompleted), e.syncRoom(code))
}

// currentOrder reads the room's order from the chain. A cached entry may
// describe an earlier order for the same room.
func (e *Escrow) currentOrder(ctx context.Context, code string) (*escrow.Order, error) {
	if code == "" {
		return nil, errors.New("txlife: room code required")
	}
	o, err := e.rec.FetchOrder(ctx, code)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, &TxError{Kind: KindOrderNotOpen}
	}
	return o, nil
}

// precheckAccept mirrors the contract's guards to skip doomed submissions.
func (e *Escrow) precheckAccept(o *escrow.Order) error {
	if o.Creator == e.wallet.Address() {
		return &TxError{Kind: KindSelfAccept}
	}
	if o.HasAccepter() || o.Status == escrow.StatusAccepted {
		return &TxError{Kind: KindOrderAlreadyAccepted}
	}
	if o.ExpiredAt(e.now()) {
		return &TxError{Kind: KindOrderExpired}
	}
	if o.Status != escrow.StatusOpen {
		return &TxError{Kind: KindOrderNotOpen}
	}
	return nil
}

func (e *Escrow) waitFor(code string, want ...escrow.OrderStatus) *Task {
	return &Task{Predicate: func(ctx context.Context) (bool, error) {
		o, err := e.rec.FetchOrder(ctx, code)
		if err != nil || o == nil {
			return false, err
		}
		for _, s := range want {
			if o.Status == s {
				return true, nil
			}
		}
		return false, nil
	}}
}

// RoomStatusFor maps a confirmed order status onto the room lifecycle.
func RoomStatusFor(s escrow.OrderStatus) (room.Status, bool) {
	switch s {
	case escrow.StatusAccepted:
		return room.StatusInProgress, true
	case escrow.StatusCompleted:
		return room.StatusCompleted, true
	case escrow.StatusCancelled, escrow.StatusExpired:
		return room.StatusCancelled, true
	}
	return "", false
}

func (e *Escrow) syncRoom(code string) func(TaskResult) {
	if e.rooms == nil {
		return nil
	}
	return func(res TaskResult) {
		if !res.Converged {
			return
		}
		o := e.rec.Cache().Order(code)
		if o == nil {
			return
		}
		to, ok := RoomStatusFor(o.Status)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := e.rooms.Advance(ctx, code, to); err != nil && !errors.Is(err, room.ErrBadTransition) {
			e.logger.Warn("room_sync_error", zap.String("room_code", code), zap.String("status", string(to)), zap.Error(err))
		}
	}
}
