package engine

import (
	"main/internal/gateway"
	"main/internal/model"
)

// ActionKind discriminates queued gateway calls. Actions are data, not
// closures, so queue contents stay inspectable and a restart loses
// nothing that the ledger does not already know how to rebuild.
type ActionKind uint8

const (
	_action_beg ActionKind = iota
	ActionPlaceOrder
	ActionCancelOrder
	ActionModifyOrder
	ActionSubscribe
	ActionUnsubscribe
	_action_end
)

func (k ActionKind) IsAvailable() bool {
	return k > _action_beg && k < _action_end
}

// Action is one queued gateway call, executed by Run in insertion
// order.
type Action struct {
	Kind         ActionKind
	Tag          string
	Order        gateway.OrderRequest
	Modify       gateway.ModifyRequest
	OrderID      string
	Subscription model.Subscription
	Keys         []string
}

// ReactionKind discriminates one-shot follow-ups fired when the
// tagged order completes.
type ReactionKind uint8

const (
	_reaction_beg ReactionKind = iota
	// ReactionNone consumes the completion without side effects.
	ReactionNone
	// ReactionCancelPendingOrders cancels every non-terminal order
	// still recorded for the instance.
	ReactionCancelPendingOrders
	// ReactionUnsubscribe drops the given feed keys.
	ReactionUnsubscribe
	_reaction_end
)

func (k ReactionKind) IsAvailable() bool {
	return k > _reaction_beg && k < _reaction_end
}

// Reaction is the registered follow-up for a workflow tag. Kind plus
// payload rather than a stored closure keeps the registry resumable.
type Reaction struct {
	Kind ReactionKind
	Keys []string
}
