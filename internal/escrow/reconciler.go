package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-escrow/internal/obslog"
)

// ReadError is a chain read that failed for a reason other than the order
// not existing. It is never folded into an absent result.
type ReadError struct {
	Op       string
	RoomCode string
	OrderID  uint64
	Err      error
}

func (e *ReadError) Error() string {
	switch {
	case e.RoomCode != "":
		return fmt.Sprintf("escrow %s room=%s: %v", e.Op, e.RoomCode, e.Err)
	case e.OrderID != 0:
		return fmt.Sprintf("escrow %s order=%d: %v", e.Op, e.OrderID, e.Err)
	default:
		return fmt.Sprintf("escrow %s: %v", e.Op, e.Err)
	}
}

func (e *ReadError) Unwrap() error { return e.Err }

// BatchResult separates the rooms that were read from those that failed.
// Failed rooms are left untouched in the cache.
type BatchResult struct {
	Orders map[string]*Order
	Failed map[string]error
}

// Reconciler refreshes the cache from the contract.
type Reconciler struct {
	reader  Reader
	cache   *Cache
	workers int
	now     func() time.Time
	logger  *zap.Logger
}

type ReconcilerOption func(*Reconciler)

func WithWorkers(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithNow(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

func NewReconciler(reader Reader, cache *Cache, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{reader: reader, cache: cache, workers: 8, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = obslog.Or(r.logger, "escrow")
	return r
}

func (r *Reconciler) Cache() *Cache { return r.cache }

func (r *Reconciler) read(ctx context.Context, code string) (*Order, error) {
	id, err := r.reader.OrderIDByRoomCode(ctx, code)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, &ReadError{Op: "getOrderIdByRoomCode", RoomCode: code, Err: err}
	}
	if id == 0 {
		return nil, nil
	}
	o, err := r.reader.OrderByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, &ReadError{Op: "getOrderDetails", RoomCode: code, OrderID: id, Err: err}
	}
	if o.RoomCode == "" {
		o.RoomCode = code
	}
	return o, nil
}

// FetchOrder reads the order for a room and stores the result, absent
// included. A failed read leaves the existing entry alone.
func (r *Reconciler) FetchOrder(ctx context.Context, roomCode string) (*Order, error) {
	code := strings.TrimSpace(roomCode)
	if code == "" {
		return nil, errors.New("escrow: empty room code")
	}
	o, err := r.read(ctx, code)
	if err != nil {
		r.logger.Warn("escrow_fetch_error", zap.String("room_code", code), zap.Error(err))
		return nil, err
	}
	r.cache.Put(code, o, r.now())
	return o, nil
}

// BatchFetch reads rooms one at a time and commits all successes together.
// A failing room is reported and skipped without aborting the batch.
func (r *Reconciler) BatchFetch(ctx context.Context, roomCodes []string) BatchResult {
	res := BatchResult{Orders: make(map[string]*Order), Failed: make(map[string]error)}
	for _, raw := range roomCodes {
		code := strings.TrimSpace(raw)
		if code == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Failed[code] = err
			continue
		}
		o, err := r.read(ctx, code)
		if err != nil {
			r.logger.Warn("escrow_batch_item_error", zap.String("room_code", code), zap.Error(err))
			res.Failed[code] = err
			continue
		}
		res.Orders[code] = o
	}
	if len(res.Orders) > 0 {
		r.cache.BatchPut(res.Orders, r.now())
	}
	return res
}

// RefreshActive pulls every active order in parallel and stores each under
// its room code. It returns the number of orders stored.
func (r *Reconciler) RefreshActive(ctx context.Context) (int, error) {
	ids, err := r.reader.ActiveOrderIDs(ctx)
	if err != nil {
		return 0, &ReadError{Op: "getActiveOrders", Err: err}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pool := pond.NewPool(r.workers, pond.WithQueueSize(len(ids)))
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	var (
		mu     sync.Mutex
		orders = make(map[string]*Order, len(ids))
		failed int
	)
	for _, id := range ids {
		id := id
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			o, err := r.reader.OrderByID(groupCtx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || o == nil || o.RoomCode == "" {
				failed++
				if err != nil && !IsNotFound(err) {
					r.logger.Warn("escrow_refresh_item_error", zap.Uint64("order_id", id), zap.Error(err))
				}
				return
			}
			orders[o.RoomCode] = o
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("escrow_refresh_wait", zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.cache.BatchPut(orders, r.now())
	r.logger.Info("escrow_refresh_active", zap.Int("active", len(ids)), zap.Int("stored", len(orders)), zap.Int("failed", failed))
	return len(orders), nil
}
