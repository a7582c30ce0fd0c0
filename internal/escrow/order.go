package escrow

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus mirrors the contract enum. Only equality is meaningful.
type OrderStatus uint8

// Ordinals of the deployed escrow contract's OrderStatus enum.
const (
	StatusOpen      OrderStatus = 0
	StatusAccepted  OrderStatus = 1
	StatusCompleted OrderStatus = 2
	StatusCancelled OrderStatus = 3
	StatusExpired   OrderStatus = 4
)

func (s OrderStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusAccepted:
		return "accepted"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Order is a read-only mirror of the contract record. Values placed in the
// cache are never mutated afterwards.
type Order struct {
	OrderID           uint64
	Creator           common.Address
	Accepter          common.Address
	Token             common.Address
	Amount            *big.Int
	Status            OrderStatus
	Winner            common.Address
	CreatorWithdrawn  bool
	AccepterWithdrawn bool
	CreatedAt         time.Time
	ExpiresAt         time.Time
	RoomCode          string
}

func (o *Order) HasAccepter() bool {
	return o != nil && o.Accepter != (common.Address{})
}

// ExpiredAt reports whether an open, unaccepted order can no longer be accepted.
func (o *Order) ExpiredAt(now time.Time) bool {
	if o == nil {
		return false
	}
	if o.Status == StatusExpired {
		return true
	}
	return o.Status == StatusOpen && !o.HasAccepter() && !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// summary holds getOrderDetails outputs.
type summary struct {
	Creator  common.Address
	Accepter common.Address
	Token    common.Address
	Amount   *big.Int
	Status   uint8
	RoomCode string
}

// extended holds gameOrders outputs.
type extended struct {
	OrderId           *big.Int
	Creator           common.Address
	Accepter          common.Address
	Token             common.Address
	Amount            *big.Int
	Status            uint8
	Winner            common.Address
	CreatorWithdrawn  bool
	AccepterWithdrawn bool
	CreatedAt         *big.Int
	ExpiresAt         *big.Int
	RoomCode          string
}

// merge combines the two reads. Summary wins for the fields both carry since
// it is read first and identity fields never change on-chain.
func merge(id uint64, s *summary, x *extended) *Order {
	o := &Order{
		OrderID:  id,
		Creator:  s.Creator,
		Accepter: s.Accepter,
		Token:    s.Token,
		Amount:   new(big.Int),
		Status:   OrderStatus(s.Status),
		RoomCode: s.RoomCode,
	}
	if s.Amount != nil {
		o.Amount.Set(s.Amount)
	}
	if x != nil {
		o.Winner = x.Winner
		o.CreatorWithdrawn = x.CreatorWithdrawn
		o.AccepterWithdrawn = x.AccepterWithdrawn
		o.CreatedAt = unixTime(x.CreatedAt)
		o.ExpiresAt = unixTime(x.ExpiresAt)
		// status may have advanced between the two reads
		if OrderStatus(x.Status) != o.Status {
			o.Status = OrderStatus(x.Status)
			o.Accepter = x.Accepter
		}
		if o.RoomCode == "" {
			o.RoomCode = x.RoomCode
		}
	}
	return o
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() <= 0 || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
