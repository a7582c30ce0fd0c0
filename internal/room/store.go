package room

import (
    "context"
    "strings"
    "sync"
)

// Store persists rooms. Get-style lookups return (nil, nil) when absent.
type Store interface {
    Get(ctx context.Context, code string) (*Room, error)
    GetByShortHash(ctx context.Context, hash string) (*Room, error)
    // Insert fails with ErrExists or ErrHashTaken on conflicts.
    Insert(ctx context.Context, r *Room) error
    // Update applies fn to the current record atomically. fn returning an
    // error aborts the write.
    Update(ctx context.Context, code string, fn func(*Room) error) (*Room, error)
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
    mu     sync.RWMutex
    byCode map[string]*Room
    byHash map[string]string
}

func NewMemoryStore() *MemoryStore {
    return &MemoryStore{byCode: make(map[string]*Room), byHash: make(map[string]string)}
}

func (m *MemoryStore) Get(ctx context.Context, code string) (*Room, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    r, ok := m.byCode[strings.TrimSpace(code)]
    if !ok {
        return nil, nil
    }
    cp := *r
    return &cp, nil
}

func (m *MemoryStore) GetByShortHash(ctx context.Context, hash string) (*Room, error) {
    m.mu.RLock()
    code, ok := m.byHash[strings.TrimSpace(hash)]
    m.mu.RUnlock()
    if !ok {
        return nil, nil
    }
    return m.Get(ctx, code)
}

func (m *MemoryStore) Insert(ctx context.Context, r *Room) error {
    if r == nil {
        return ErrInvalidArgs
    }
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.byCode[r.RoomCode]; ok {
        return ErrExists
    }
    if _, ok := m.byHash[r.ShortHash]; ok {
        return ErrHashTaken
    }
    cp := *r
    m.byCode[r.RoomCode] = &cp
    m.byHash[r.ShortHash] = r.RoomCode
    return nil
}

func (m *MemoryStore) Update(ctx context.Context, code string, fn func(*Room) error) (*Room, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    cur, ok := m.byCode[strings.TrimSpace(code)]
    if !ok {
        return nil, ErrNotFound
    }
    next := *cur
    if err := fn(&next); err != nil {
        return nil, err
    }
    m.byCode[next.RoomCode] = &next
    out := next
    return &out, nil
}
