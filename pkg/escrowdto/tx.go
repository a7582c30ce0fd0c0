package escrowdto

import "time"

// TxRequest asks the server wallet to act for a signed room player.
type TxRequest struct {
	RoomCode           string `json:"roomCode"`
	WalletAddress      string `json:"walletAddress"`
	WalletSignature    string `json:"walletSignature"`
	SignatureTimestamp int64  `json:"signatureTimestamp"`
	Token              string `json:"token,omitempty"`
	Amount             string `json:"amount,omitempty"`
}

type TxRecord struct {
	Slot      string    `json:"slot"`
	Action    string    `json:"action,omitempty"`
	Status    string    `json:"status"`
	Hash      string    `json:"hash,omitempty"`
	Message   string    `json:"message,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TxResponse struct {
	Hash   string   `json:"hash,omitempty"`
	Record TxRecord `json:"record"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ChainID     string `json:"chainId,omitempty"`
	CachedRooms int    `json:"cachedRooms"`
	RoomStore   string `json:"roomStore"`
}
