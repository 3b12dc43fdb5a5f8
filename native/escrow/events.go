package escrow

import (
	"encoding/hex"
	"strconv"

	"xsettle/core/types"
)

// Canonical event types emitted by the engine, one per state transition.
const (
	EventTypeProposed      = "escrow.proposed"
	EventTypeDeposited     = "escrow.deposited"
	EventTypeConfirmed     = "escrow.confirmed"
	EventTypeCompleted     = "escrow.completed"
	EventTypeCancelled     = "escrow.cancelled"
	EventTypeRefunded      = "escrow.refunded"
	EventTypeDisputeRaised = "escrow.dispute_raised"
)

// Side labels used in deposit and confirmation event attributes.
const (
	SideSeller = "seller"
	SideBuyer  = "buyer"
)

type engineEvent struct {
	evt *types.Event
}

func (e engineEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e engineEvent) Event() *types.Event { return e.evt }

func baseAttributes(e *Escrow) map[string]string {
	attrs := make(map[string]string)
	if e == nil {
		return attrs
	}
	attrs["id"] = hex.EncodeToString(e.ID[:])
	attrs["seller"] = hex.EncodeToString(e.Seller[:])
	attrs["buyer"] = hex.EncodeToString(e.Buyer[:])
	attrs["sellerAsset"] = e.SellerLeg.Asset.String()
	attrs["sellerAmount"] = e.SellerLeg.Amount.String()
	attrs["buyerAsset"] = e.BuyerLeg.Asset.String()
	attrs["buyerAmount"] = e.BuyerLeg.Amount.String()
	attrs["sellerHost"] = e.SellerHost
	attrs["buyerHost"] = e.BuyerHost
	attrs["status"] = e.Status().String()
	attrs["expiresAt"] = strconv.FormatInt(e.ExpiresAt, 10)
	return attrs
}

// NewProposedEvent returns the canonical payload for a newly proposed escrow.
func NewProposedEvent(e *Escrow) *types.Event {
	attrs := baseAttributes(e)
	attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
	return &types.Event{Type: EventTypeProposed, Attributes: attrs}
}

// NewDepositedEvent returns the payload emitted when one side funds its leg.
func NewDepositedEvent(e *Escrow, side string) *types.Event {
	attrs := baseAttributes(e)
	attrs["side"] = side
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewConfirmedEvent returns the payload emitted when one side confirms.
func NewConfirmedEvent(e *Escrow, side string) *types.Event {
	attrs := baseAttributes(e)
	attrs["side"] = side
	return &types.Event{Type: EventTypeConfirmed, Attributes: attrs}
}

// NewCompletedEvent returns the payload emitted once both confirmations are
// present and every locally hosted leg has been paid out. The net and fee
// figures cover the local legs only.
func NewCompletedEvent(e *Escrow, payouts []LegPayout) *types.Event {
	attrs := baseAttributes(e)
	attrs["completedAt"] = strconv.FormatInt(e.CompletedAt, 10)
	for _, p := range payouts {
		attrs[p.Side+"Net"] = p.Net.String()
		attrs[p.Side+"Fee"] = p.Fee.String()
	}
	return &types.Event{Type: EventTypeCompleted, Attributes: attrs}
}

// NewCancelledEvent returns the payload emitted when an escrow is cancelled
// before becoming fully funded.
func NewCancelledEvent(e *Escrow) *types.Event {
	return &types.Event{Type: EventTypeCancelled, Attributes: baseAttributes(e)}
}

// NewRefundedEvent returns the payload emitted when an expired escrow's local
// deposits are returned to their depositors.
func NewRefundedEvent(e *Escrow) *types.Event {
	return &types.Event{Type: EventTypeRefunded, Attributes: baseAttributes(e)}
}

// NewDisputeRaisedEvent returns the payload emitted when a party flags the
// escrow as disputed.
func NewDisputeRaisedEvent(e *Escrow) *types.Event {
	attrs := baseAttributes(e)
	attrs["resolver"] = hex.EncodeToString(e.DisputeResolver[:])
	attrs["reason"] = e.DisputeReason
	return &types.Event{Type: EventTypeDisputeRaised, Attributes: attrs}
}
