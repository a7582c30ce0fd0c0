package escrowdto

import "time"

type Room struct {
	RoomID       string    `json:"room_id"`
	RoomCode     string    `json:"room_code,omitempty"`
	ShortHash    string    `json:"short_hash,omitempty"`
	WhitePlayer  string    `json:"white_player"`
	BlackPlayer  *string   `json:"black_player"`
	GameStatus   string    `json:"game_status"`
	GameCurrency string    `json:"game_currency"`
	GameSize     string    `json:"game_size"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// ResolveResponse answers a short-hash lookup. Live rooms set
// NeedsVerification; completed or cancelled rooms come back with status 410,
// Completed=true and no verification flag.
type ResolveResponse struct {
	Room
	NeedsVerification bool   `json:"needsVerification,omitempty"`
	Completed         bool   `json:"completed,omitempty"`
	Message           string `json:"message,omitempty"`
}

type ValidateRequest struct {
	RoomCode           string `json:"roomCode"`
	WalletAddress      string `json:"walletAddress"`
	WalletSignature    string `json:"walletSignature,omitempty"`
	SignatureTimestamp int64  `json:"signatureTimestamp,omitempty"`
	Action             string `json:"action"`
}

type ValidateResponse struct {
	Valid       bool   `json:"valid"`
	CanCreate   bool   `json:"canCreate,omitempty"`
	IsCompleted bool   `json:"isCompleted"`
	IsCancelled bool   `json:"isCancelled"`
	IsActive    bool   `json:"isActive"`
	IsCreator   bool   `json:"isCreator"`
	IsJoiner    bool   `json:"isJoiner"`
	CanJoin     bool   `json:"canJoin"`
	CanPlay     bool   `json:"canPlay"`
	Room        *Room  `json:"room,omitempty"`
	Code        string `json:"code,omitempty"`
	Error       string `json:"error,omitempty"`
}

type CreateRoomRequest struct {
	RoomCode           string `json:"roomCode,omitempty"`
	WalletAddress      string `json:"walletAddress"`
	WalletSignature    string `json:"walletSignature"`
	SignatureTimestamp int64  `json:"signatureTimestamp"`
	GameCurrency       string `json:"gameCurrency"`
	GameSize           string `json:"gameSize"`
}

type JoinRoomRequest struct {
	WalletAddress      string `json:"walletAddress"`
	WalletSignature    string `json:"walletSignature"`
	SignatureTimestamp int64  `json:"signatureTimestamp"`
}
