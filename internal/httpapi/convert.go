package httpapi

import (
	"strings"
	"time"

	"github.com/park285/cheese-escrow/internal/escrow"
	"github.com/park285/cheese-escrow/internal/room"
	"github.com/park285/cheese-escrow/internal/roomauth"
	"github.com/park285/cheese-escrow/internal/txlife"
	"github.com/park285/cheese-escrow/pkg/escrowdto"
)

func roomDTO(r *room.Room) *escrowdto.Room {
	if r == nil {
		return nil
	}
	out := &escrowdto.Room{
		RoomID:       r.ID,
		RoomCode:     r.RoomCode,
		ShortHash:    r.ShortHash,
		WhitePlayer:  r.WhitePlayer,
		GameStatus:   string(r.GameStatus),
		GameCurrency: r.GameCurrency,
		GameSize:     r.GameSize,
		CreatedAt:    r.CreatedAt,
	}
	if b := strings.TrimSpace(r.BlackPlayer); b != "" {
		out.BlackPlayer = &b
	}
	return out
}

func validateDTO(res roomauth.Result) escrowdto.ValidateResponse {
	return escrowdto.ValidateResponse{
		Valid:       res.Valid,
		CanCreate:   res.CanCreate,
		IsCompleted: res.IsCompleted,
		IsCancelled: res.IsCancelled,
		IsActive:    res.IsActive,
		IsCreator:   res.IsCreator,
		IsJoiner:    res.IsJoiner,
		CanJoin:     res.CanJoin,
		CanPlay:     res.CanPlay,
		Room:        roomDTO(res.Room),
		Code:        res.Code,
		Error:       res.Error,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func orderDTO(o *escrow.Order) *escrowdto.Order {
	if o == nil {
		return nil
	}
	amount := "0"
	if o.Amount != nil {
		amount = o.Amount.String()
	}
	return &escrowdto.Order{
		OrderID:           o.OrderID,
		Creator:           o.Creator.Hex(),
		Accepter:          o.Accepter.Hex(),
		Token:             o.Token.Hex(),
		Amount:            amount,
		Status:            o.Status.String(),
		StatusCode:        uint8(o.Status),
		Winner:            o.Winner.Hex(),
		CreatorWithdrawn:  o.CreatorWithdrawn,
		AccepterWithdrawn: o.AccepterWithdrawn,
		CreatedAt:         timePtr(o.CreatedAt),
		ExpiresAt:         timePtr(o.ExpiresAt),
		RoomCode:          o.RoomCode,
	}
}

func entryDTO(e escrow.Entry) escrowdto.OrderResponse {
	return escrowdto.OrderResponse{
		RoomCode:  e.RoomCode,
		Order:     orderDTO(e.Order),
		FetchedAt: e.FetchedAt,
		Version:   e.Version,
	}
}

func txRecordDTO(r txlife.Record) escrowdto.TxRecord {
	return escrowdto.TxRecord{
		Slot:      r.Slot,
		Action:    string(r.Action),
		Status:    string(r.Status),
		Hash:      r.Hash,
		Message:   r.Message,
		ErrorKind: string(r.ErrorKind),
		UpdatedAt: r.UpdatedAt,
	}
}
