package escrow

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Entry is one cached read. A nil Order means the chain reported no order
// for the room, which is different from the room never having been read.
type Entry struct {
	RoomCode  string
	Order     *Order
	FetchedAt time.Time
	Version   uint64
}

func (e Entry) Absent() bool { return e.Order == nil }

// Cache keeps the latest chain read per room code. Writes replace whole
// entries and the last write wins.
type Cache struct {
	entries *xsync.Map[string, Entry]
	seq     atomic.Uint64

	mu   sync.Mutex
	subs map[string]map[chan Entry]struct{}
}

func NewCache() *Cache {
	return &Cache{
		entries: xsync.NewMap[string, Entry](),
		subs:    make(map[string]map[chan Entry]struct{}),
	}
}

func cacheKey(code string) string { return strings.TrimSpace(code) }

// Get reports ok=false when the room has never been fetched.
func (c *Cache) Get(code string) (Entry, bool) {
	return c.entries.Load(cacheKey(code))
}

// Order returns the cached order, nil when absent or never fetched.
func (c *Cache) Order(code string) *Order {
	e, ok := c.Get(code)
	if !ok {
		return nil
	}
	return e.Order
}

func (c *Cache) Put(code string, o *Order, fetchedAt time.Time) Entry {
	key := cacheKey(code)
	e, _ := c.entries.Compute(key, func(_ Entry, _ bool) (Entry, xsync.ComputeOp) {
		return Entry{RoomCode: key, Order: o, FetchedAt: fetchedAt, Version: c.seq.Add(1)}, xsync.UpdateOp
	})
	c.publish(e)
	return e
}

// BatchPut applies every result of one batch. Codes not in orders keep their
// previous entries.
func (c *Cache) BatchPut(orders map[string]*Order, fetchedAt time.Time) []Entry {
	out := make([]Entry, 0, len(orders))
	for code, o := range orders {
		out = append(out, c.Put(code, o, fetchedAt))
	}
	return out
}

func (c *Cache) Len() int { return c.entries.Size() }

// Snapshot copies the current entries.
func (c *Cache) Snapshot() map[string]Entry {
	out := make(map[string]Entry, c.entries.Size())
	c.entries.Range(func(k string, v Entry) bool {
		out[k] = v
		return true
	})
	return out
}

// Subscribe delivers every future write for code. Slow subscribers miss
// intermediate versions but the channel always ends up holding a recent one.
func (c *Cache) Subscribe(code string) (<-chan Entry, func()) {
	key := cacheKey(code)
	ch := make(chan Entry, 4)
	c.mu.Lock()
	set := c.subs[key]
	if set == nil {
		set = make(map[chan Entry]struct{})
		c.subs[key] = set
	}
	set[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			if set := c.subs[key]; set != nil {
				delete(set, ch)
				if len(set) == 0 {
					delete(c.subs, key)
				}
			}
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (c *Cache) publish(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs[e.RoomCode] {
		select {
		case ch <- e:
		default:
			// drop the oldest queued version to make room
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}
