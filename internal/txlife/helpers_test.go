package txlife

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/park285/cheese-escrow/internal/escrow"
)

// manualScheduler fires callbacks only when Advance moves its clock.
type manualScheduler struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	at      time.Duration
	seq     int
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, at: s.now + d, seq: s.seq, f: f}
	s.pending = append(s.pending, t)
	return t
}

func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()
	for {
		s.mu.Lock()
		sort.Slice(s.pending, func(i, j int) bool {
			if s.pending[i].at == s.pending[j].at {
				return s.pending[i].seq < s.pending[j].seq
			}
			return s.pending[i].at < s.pending[j].at
		})
		if len(s.pending) == 0 || s.pending[0].at > target {
			s.now = target
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.now = next.at
		stopped := next.stopped
		s.mu.Unlock()
		if !stopped {
			next.f()
		}
	}
}

type fakeWallet struct {
	mu   sync.Mutex
	addr common.Address
	err  error
	sent [][]byte
	next byte
}

func (w *fakeWallet) Address() common.Address { return w.addr }

func (w *fakeWallet) Send(_ context.Context, _ common.Address, data []byte) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return common.Hash{}, w.err
	}
	w.sent = append(w.sent, data)
	w.next++
	return common.BytesToHash([]byte{0xab, w.next}), nil
}

func (w *fakeWallet) sends() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sent)
}

type chainReader struct {
	mu     sync.Mutex
	ids    map[string]uint64
	orders map[uint64]*escrow.Order
}

func newChainReader() *chainReader {
	return &chainReader{ids: map[string]uint64{}, orders: map[uint64]*escrow.Order{}}
}

func (c *chainReader) put(o escrow.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[o.RoomCode] = o.OrderID
	c.orders[o.OrderID] = &o
}

func (c *chainReader) OrderIDByRoomCode(_ context.Context, code string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[code], nil
}

func (c *chainReader) OrderByID(_ context.Context, id uint64) (*escrow.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return nil, escrow.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (c *chainReader) ActiveOrderIDs(context.Context) ([]uint64, error) { return nil, nil }
