package txlife

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/park285/cheese-escrow/internal/msgcat"
	"github.com/park285/cheese-escrow/internal/obslog"
)

// ErrBusy is returned when a slot already has a wallet request outstanding.
var ErrBusy = errors.New("txlife: slot busy")

// Call submits one transaction and returns its hash once broadcast.
type Call func(ctx context.Context) (common.Hash, error)

type Config struct {
	SettleDelay  time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	ResetAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 5 * time.Second
	}
	return c
}

type slot struct {
	rec Record
	gen uint64
}

// Controller drives every write through submit, settle and reconcile.
type Controller struct {
	cfg    Config
	sched  Scheduler
	msgs   *msgcat.Catalog
	logger *zap.Logger
	now    func() time.Time

	base   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	slots map[string]*slot
}

type Option func(*Controller)

func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		if s != nil {
			c.sched = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option { return func(c *Controller) { c.logger = l } }

func WithCatalog(m *msgcat.Catalog) Option {
	return func(c *Controller) {
		if m != nil {
			c.msgs = m
		}
	}
}

func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:   cfg.withDefaults(),
		sched: WallClock(),
		msgs:  msgcat.Default(),
		now:   time.Now,
		slots: make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = obslog.Or(c.logger, "txlife")
	c.base, c.cancel = context.WithCancel(context.Background())
	return c
}

// Close stops pending reconciliation tasks.
func (c *Controller) Close() { c.cancel() }

func (c *Controller) Config() Config { return c.cfg }

// Record returns the current view of a slot; unknown slots are idle.
func (c *Controller) Record(key string) Record {
	key = strings.TrimSpace(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[key]; ok {
		return s.rec
	}
	return Record{Slot: key, Status: StatusIdle}
}

// Records snapshots every non-idle slot.
func (c *Controller) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, len(c.slots))
	for _, s := range c.slots {
		out = append(out, s.rec)
	}
	return out
}

// begin claims the slot for a new submission.
func (c *Controller) begin(key string, action Action) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	if s.rec.Status.Submitting() {
		return 0, ErrBusy
	}
	s.gen++
	s.rec = Record{
		Slot:      key,
		Action:    action,
		Status:    action.Submitting(),
		Message:   c.msgs.Text("tx.confirm."+string(action.Submitting()), nil),
		UpdatedAt: c.now(),
	}
	return s.gen, nil
}

func (c *Controller) settle(key string, gen uint64, rec Record) {
	c.mu.Lock()
	s := c.slots[key]
	if s == nil || s.gen != gen {
		c.mu.Unlock()
		return
	}
	rec.Slot = key
	rec.UpdatedAt = c.now()
	s.rec = rec
	c.mu.Unlock()

	// the terminal state is visible for ResetAfter, then the slot goes idle
	c.sched.AfterFunc(c.cfg.ResetAfter, func() { c.reset(key, gen) })
}

func (c *Controller) reset(key string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.slots[key]; s != nil && s.gen == gen && s.rec.Status.Terminal() {
		delete(c.slots, key)
	}
}

// Execute runs call in slot key. It returns as soon as the transaction is
// broadcast; reconcile, when given, runs afterwards on the scheduler and
// onDone sees its result.
func (c *Controller) Execute(ctx context.Context, key string, action Action, call Call, successMessage string, reconcile *Task, onDone func(TaskResult)) (common.Hash, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = string(action)
	}
	gen, err := c.begin(key, action)
	if err != nil {
		c.logger.Warn("tx_busy", zap.String("slot", key), zap.String("action", string(action)))
		return common.Hash{}, err
	}
	c.logger.Info("tx_submit", zap.String("slot", key), zap.String("action", string(action)))

	hash, err := call(ctx)
	if err != nil {
		te := Classify(err)
		if te.Message == "" {
			te.Message = c.msgs.Text(te.Kind.MessageKey(), nil)
		}
		c.settle(key, gen, Record{Action: action, Status: StatusError, Message: te.Message, ErrorKind: te.Kind})
		c.logger.Warn("tx_error", zap.String("slot", key), zap.String("action", string(action)), zap.String("kind", string(te.Kind)), zap.Error(te.Cause))
		return common.Hash{}, te
	}

	if successMessage == "" {
		successMessage = c.msgs.Text("tx.success."+string(action), nil)
	}
	c.settle(key, gen, Record{Action: action, Status: StatusSuccess, Hash: hash.Hex(), Message: successMessage})
	c.logger.Info("tx_broadcast", zap.String("slot", key), zap.String("action", string(action)), zap.String("hash", hash.Hex()))

	if reconcile != nil {
		t := *reconcile
		if t.Interval <= 0 {
			t.Interval = c.cfg.PollInterval
		}
		if t.MaxAttempts <= 0 {
			t.MaxAttempts = c.cfg.MaxAttempts
		}
		t.Run(c.base, c.sched, c.cfg.SettleDelay, func(res TaskResult) {
			fields := []zap.Field{
				zap.String("slot", key),
				zap.String("action", string(action)),
				zap.String("hash", hash.Hex()),
				zap.Int("attempts", res.Attempts),
				zap.Bool("converged", res.Converged),
			}
			if res.LastErr != nil {
				fields = append(fields, zap.Error(res.LastErr))
			}
			c.logger.Info("tx_reconcile_done", fields...)
			if onDone != nil {
				onDone(res)
			}
		})
	}
	return hash, nil
}
