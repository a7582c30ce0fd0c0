package room

import (
    "strings"
    "time"
)

// Status is the off-chain lifecycle of a room.
type Status string

const (
    StatusWaiting    Status = "waiting"
    StatusActive     Status = "active"
    StatusInProgress Status = "in_progress"
    StatusCompleted  Status = "completed"
    StatusCancelled  Status = "cancelled"
)

// rank orders the non-cancelled states; status only moves forward.
func (s Status) rank() int {
    switch s {
    case StatusWaiting:
        return 0
    case StatusActive:
        return 1
    case StatusInProgress:
        return 2
    case StatusCompleted:
        return 3
    default:
        return -1
    }
}

func (s Status) Valid() bool { return s == StatusCancelled || s.rank() >= 0 }

// Terminal reports completed or cancelled.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// CanTransition allows forward moves and cancellation from any non-terminal state.
func CanTransition(from, to Status) bool {
    if !from.Valid() || !to.Valid() || from.Terminal() {
        return false
    }
    if to == StatusCancelled {
        return true
    }
    return to.rank() > from.rank()
}

// Room is the off-chain session record. The contract, not this record, is the
// source of truth for funds.
type Room struct {
    ID           string    `json:"room_id"`
    RoomCode     string    `json:"room_code"`
    ShortHash    string    `json:"short_hash"`
    WhitePlayer  string    `json:"white_player"`
    BlackPlayer  string    `json:"black_player,omitempty"`
    GameStatus   Status    `json:"game_status"`
    GameCurrency string    `json:"game_currency"`
    GameSize     string    `json:"game_size"`
    CreatedAt    time.Time `json:"created_at"`
    UpdatedAt    time.Time `json:"updated_at"`
}

func (r *Room) HasJoiner() bool { return r != nil && strings.TrimSpace(r.BlackPlayer) != "" }

// IsCreator compares wallet addresses ignoring case.
func (r *Room) IsCreator(wallet string) bool {
    return r != nil && sameWallet(r.WhitePlayer, wallet)
}

func (r *Room) IsJoiner(wallet string) bool {
    return r != nil && r.HasJoiner() && sameWallet(r.BlackPlayer, wallet)
}

func sameWallet(a, b string) bool {
    a, b = strings.TrimSpace(a), strings.TrimSpace(b)
    return a != "" && strings.EqualFold(a, b)
}

// CreateParams describes a new room. RoomCode may be empty to have one allocated.
type CreateParams struct {
    RoomCode string
    Creator  string
    Currency string
    Size     string
}

// Errors
var (
    ErrInvalidArgs   = errf("invalid arguments")
    ErrNotFound      = errf("room not found")
    ErrExists        = errf("room already exists")
    ErrHashTaken     = errf("short hash already taken")
    ErrInactive      = errf("room is no longer active")
    ErrFull          = errf("room already has a joiner")
    ErrSelfJoin      = errf("creator cannot join own room")
    ErrBadTransition = errf("invalid room status transition")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
