package room

import (
    "context"
    "crypto/rand"
    "errors"
    "fmt"
    "io"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/park285/cheese-escrow/internal/obslog"
    "go.uber.org/zap"
)

const (
    codeLen      = 6
    shortHashLen = 8
    allocTries   = 5
)

// Manager owns room lifecycle writes on top of a Store.
type Manager struct {
    store Store
    now   func() time.Time
}

func NewManager(store Store) *Manager {
    return &Manager{store: store, now: time.Now}
}

func (m *Manager) Store() Store { return m.store }

func (m *Manager) Get(ctx context.Context, code string) (*Room, error) {
    code = strings.TrimSpace(code)
    if code == "" { return nil, ErrInvalidArgs }
    return m.store.Get(ctx, code)
}

// Resolve looks a room up by its public short hash. Terminal rooms are still
// returned; callers decide how to present them.
func (m *Manager) Resolve(ctx context.Context, shortHash string) (*Room, error) {
    shortHash = strings.TrimSpace(shortHash)
    if shortHash == "" { return nil, ErrInvalidArgs }
    r, err := m.store.GetByShortHash(ctx, shortHash)
    if err != nil { return nil, err }
    if r == nil { return nil, ErrNotFound }
    return r, nil
}

// Create inserts a waiting room owned by p.Creator (white). An empty
// RoomCode gets a generated one; a supplied code that exists fails with ErrExists.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Room, error) {
    creator := strings.TrimSpace(p.Creator)
    if creator == "" { return nil, ErrInvalidArgs }
    fixedCode := strings.TrimSpace(p.RoomCode)

    for i := 0; i < allocTries; i++ {
        code := fixedCode
        if code == "" {
            c, err := randomToken(codeLen)
            if err != nil { return nil, err }
            code = c
        }
        hash, err := randomToken(shortHashLen)
        if err != nil { return nil, err }
        now := m.now()
        r := &Room{
            ID:           uuid.NewString(),
            RoomCode:     code,
            ShortHash:    hash,
            WhitePlayer:  creator,
            GameStatus:   StatusWaiting,
            GameCurrency: strings.TrimSpace(p.Currency),
            GameSize:     strings.TrimSpace(p.Size),
            CreatedAt:    now,
            UpdatedAt:    now,
        }
        err = m.store.Insert(ctx, r)
        switch {
        case err == nil:
            obslog.L().Info("room_create", zap.String("room_code", r.RoomCode), zap.String("short_hash", r.ShortHash), zap.String("creator", creator))
            return r, nil
        case errors.Is(err, ErrExists) && fixedCode != "":
            return nil, ErrExists
        case errors.Is(err, ErrExists), errors.Is(err, ErrHashTaken):
            continue
        default:
            return nil, err
        }
    }
    return nil, fmt.Errorf("failed to allocate room code")
}

// Join seats wallet as black. Re-joining by the current joiner is a no-op.
func (m *Manager) Join(ctx context.Context, code, wallet string) (*Room, error) {
    code, wallet = strings.TrimSpace(code), strings.TrimSpace(wallet)
    if code == "" || wallet == "" { return nil, ErrInvalidArgs }
    r, err := m.store.Update(ctx, code, func(cur *Room) error {
        if cur.GameStatus.Terminal() { return ErrInactive }
        if cur.IsJoiner(wallet) { return nil }
        if cur.HasJoiner() { return ErrFull }
        if cur.IsCreator(wallet) { return ErrSelfJoin }
        cur.BlackPlayer = wallet
        if cur.GameStatus == StatusWaiting {
            cur.GameStatus = StatusActive
        }
        cur.UpdatedAt = m.now()
        return nil
    })
    if err != nil {
        obslog.L().Warn("room_join_error", zap.String("room_code", code), zap.String("wallet", wallet), zap.Error(err))
        return nil, err
    }
    obslog.L().Info("room_join", zap.String("room_code", code), zap.String("wallet", wallet), zap.String("status", string(r.GameStatus)))
    return r, nil
}

// Advance moves the room to status. Repeating the current status is a no-op
// so confirmation replays stay harmless.
func (m *Manager) Advance(ctx context.Context, code string, to Status) (*Room, error) {
    code = strings.TrimSpace(code)
    if code == "" || !to.Valid() { return nil, ErrInvalidArgs }
    changed := false
    r, err := m.store.Update(ctx, code, func(cur *Room) error {
        if cur.GameStatus == to { return nil }
        if !CanTransition(cur.GameStatus, to) { return ErrBadTransition }
        cur.GameStatus = to
        cur.UpdatedAt = m.now()
        changed = true
        return nil
    })
    if err != nil { return nil, err }
    if changed {
        obslog.L().Info("room_advance", zap.String("room_code", code), zap.String("status", string(to)))
    }
    return r, nil
}

func (m *Manager) Cancel(ctx context.Context, code string) (*Room, error) {
    return m.Advance(ctx, code, StatusCancelled)
}

const tokenLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomToken returns n upper-case alphanumerics.
func randomToken(n int) (string, error) { return tokenFrom(rand.Reader, n) }

// tokenFrom draws uniformly: bytes at or above the largest multiple of the
// alphabet size are discarded instead of folded.
func tokenFrom(src io.Reader, n int) (string, error) {
    const limit = 256 - 256%len(tokenLetters)
    out := make([]byte, 0, n)
    buf := make([]byte, n+n/4+1)
    for len(out) < n {
        if _, err := io.ReadFull(src, buf); err != nil {
            return "", err
        }
        for _, b := range buf {
            if int(b) >= limit {
                continue
            }
            out = append(out, tokenLetters[int(b)%len(tokenLetters)])
            if len(out) == n {
                break
            }
        }
    }
    return string(out), nil
}
