package escrowdto

import "time"

// Order mirrors the contract record. Amount is a base-10 integer string.
type Order struct {
	OrderID           uint64     `json:"orderId"`
	Creator           string     `json:"creator"`
	Accepter          string     `json:"accepter"`
	Token             string     `json:"token"`
	Amount            string     `json:"amount"`
	Status            string     `json:"status"`
	StatusCode        uint8      `json:"statusCode"`
	Winner            string     `json:"winner"`
	CreatorWithdrawn  bool       `json:"creatorWithdrawn"`
	AccepterWithdrawn bool       `json:"accepterWithdrawn"`
	CreatedAt         *time.Time `json:"createdAt,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	RoomCode          string     `json:"roomCode"`
}

// OrderResponse is one cache entry. Order is null when the room has no
// order on chain.
type OrderResponse struct {
	RoomCode  string    `json:"roomCode"`
	Order     *Order    `json:"order"`
	FetchedAt time.Time `json:"fetchedAt"`
	Version   uint64    `json:"version"`
}
