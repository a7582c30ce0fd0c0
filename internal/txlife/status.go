package txlife

import "time"

// Status is the lifecycle state of one action slot.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusApproving       Status = "approving"
	StatusCreatingOrder   Status = "creatingOrder"
	StatusAcceptingOrder  Status = "acceptingOrder"
	StatusCancellingOrder Status = "cancellingOrder"
	StatusCompletingGame  Status = "completingGame"
	StatusSuccess         Status = "success"
	StatusError           Status = "error"
)

// Submitting reports whether a wallet request is outstanding.
func (s Status) Submitting() bool {
	switch s {
	case StatusApproving, StatusCreatingOrder, StatusAcceptingOrder, StatusCancellingOrder, StatusCompletingGame:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusError }

// Action names a state-changing contract call.
type Action string

const (
	ActionApprove      Action = "approve"
	ActionCreateOrder  Action = "createOrder"
	ActionAcceptOrder  Action = "acceptOrder"
	ActionCancelOrder  Action = "cancelOrder"
	ActionCompleteGame Action = "completeGame"
)

func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionApprove, ActionCreateOrder, ActionAcceptOrder, ActionCancelOrder, ActionCompleteGame:
		return a, true
	}
	return "", false
}

// Submitting maps an action to its in-flight status.
func (a Action) Submitting() Status {
	switch a {
	case ActionApprove:
		return StatusApproving
	case ActionCreateOrder:
		return StatusCreatingOrder
	case ActionAcceptOrder:
		return StatusAcceptingOrder
	case ActionCancelOrder:
		return StatusCancellingOrder
	case ActionCompleteGame:
		return StatusCompletingGame
	}
	return StatusIdle
}

// Record is the UI-facing view of a slot.
type Record struct {
	Slot      string    `json:"slot"`
	Action    Action    `json:"action,omitempty"`
	Status    Status    `json:"status"`
	Hash      string    `json:"hash,omitempty"`
	Message   string    `json:"message,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
