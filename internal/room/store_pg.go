package room

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/lib/pq"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS rooms (
    id            UUID PRIMARY KEY,
    room_code     TEXT NOT NULL UNIQUE,
    short_hash    TEXT NOT NULL UNIQUE,
    white_player  TEXT NOT NULL,
    black_player  TEXT,
    game_status   TEXT NOT NULL,
    game_currency TEXT NOT NULL,
    game_size     TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
)`

const roomColumns = `id, room_code, short_hash, white_player, black_player, game_status, game_currency, game_size, created_at, updated_at`

// PGStore is the relational room record.
type PGStore struct {
    db *sql.DB
}

// OpenPG opens a lib/pq pool and verifies connectivity.
func OpenPG(databaseURL string) (*PGStore, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(16)
    db.SetMaxIdleConns(8)
    db.SetConnMaxLifetime(30 * time.Minute)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("ping postgres: %w", err)
    }
    return NewPGStore(db), nil
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error {
    if s == nil || s.db == nil { return nil }
    return s.db.Close()
}

// EnsureSchema creates the rooms table when missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
    _, err := s.db.ExecContext(ctx, pgSchema)
    return err
}

type rowScanner interface {
    Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*Room, error) {
    var (
        r      Room
        black  sql.NullString
        status string
    )
    err := row.Scan(&r.ID, &r.RoomCode, &r.ShortHash, &r.WhitePlayer, &black, &status, &r.GameCurrency, &r.GameSize, &r.CreatedAt, &r.UpdatedAt)
    if err != nil {
        return nil, err
    }
    r.BlackPlayer = black.String
    r.GameStatus = Status(status)
    return &r, nil
}

func (s *PGStore) Get(ctx context.Context, code string) (*Room, error) {
    q := `SELECT ` + roomColumns + ` FROM rooms WHERE room_code = $1`
    r, err := scanRoom(s.db.QueryRowContext(ctx, q, strings.TrimSpace(code)))
    if errors.Is(err, sql.ErrNoRows) { return nil, nil }
    if err != nil { return nil, fmt.Errorf("select room: %w", err) }
    return r, nil
}

func (s *PGStore) GetByShortHash(ctx context.Context, hash string) (*Room, error) {
    q := `SELECT ` + roomColumns + ` FROM rooms WHERE short_hash = $1`
    r, err := scanRoom(s.db.QueryRowContext(ctx, q, strings.TrimSpace(hash)))
    if errors.Is(err, sql.ErrNoRows) { return nil, nil }
    if err != nil { return nil, fmt.Errorf("select room by hash: %w", err) }
    return r, nil
}

func (s *PGStore) Insert(ctx context.Context, r *Room) error {
    if r == nil { return ErrInvalidArgs }
    q := `INSERT INTO rooms (` + roomColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
    _, err := s.db.ExecContext(ctx, q,
        r.ID, r.RoomCode, r.ShortHash, r.WhitePlayer, nullable(r.BlackPlayer),
        string(r.GameStatus), r.GameCurrency, r.GameSize, r.CreatedAt, r.UpdatedAt,
    )
    var pqErr *pq.Error
    if errors.As(err, &pqErr) && pqErr.Code == "23505" {
        if strings.Contains(pqErr.Constraint, "short_hash") {
            return ErrHashTaken
        }
        return ErrExists
    }
    if err != nil {
        return fmt.Errorf("insert room: %w", err)
    }
    return nil
}

func (s *PGStore) Update(ctx context.Context, code string, fn func(*Room) error) (*Room, error) {
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil { return nil, err }
    defer func() { _ = tx.Rollback() }()

    q := `SELECT ` + roomColumns + ` FROM rooms WHERE room_code = $1 FOR UPDATE`
    cur, err := scanRoom(tx.QueryRowContext(ctx, q, strings.TrimSpace(code)))
    if errors.Is(err, sql.ErrNoRows) { return nil, ErrNotFound }
    if err != nil { return nil, fmt.Errorf("lock room: %w", err) }
    if err := fn(cur); err != nil { return nil, err }

    _, err = tx.ExecContext(ctx,
        `UPDATE rooms SET black_player=$2, game_status=$3, game_currency=$4, game_size=$5, updated_at=$6 WHERE room_code=$1`,
        cur.RoomCode, nullable(cur.BlackPlayer), string(cur.GameStatus), cur.GameCurrency, cur.GameSize, cur.UpdatedAt,
    )
    if err != nil { return nil, fmt.Errorf("update room: %w", err) }
    if err := tx.Commit(); err != nil { return nil, err }
    return cur, nil
}

func nullable(s string) sql.NullString {
    s = strings.TrimSpace(s)
    return sql.NullString{String: s, Valid: s != ""}
}
