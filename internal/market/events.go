package market

import "github.com/efreitasn/gridmarket/internal/domain"

// EventKind identifies what happened on a market.
type EventKind string

const (
	EventOffer        EventKind = "offer"
	EventOfferDeleted EventKind = "offer_deleted"
	EventOfferSplit   EventKind = "offer_split"
	EventOfferTraded  EventKind = "offer_traded"
	EventBid          EventKind = "bid"
	EventBidDeleted   EventKind = "bid_deleted"
	EventBidSplit     EventKind = "bid_split"
	EventBidTraded    EventKind = "bid_traded"
)

// Event is the payload delivered to market listeners. Only the fields
// relevant to Kind are set: Offer for offer events, Bid for bid events,
// Trade for trade events, and the Original/Accepted/Residual triple for
// split events.
type Event struct {
	Kind     EventKind
	MarketID string

	Offer *domain.Offer
	Bid   *domain.Bid
	Trade *domain.Trade

	OriginalOffer *domain.Offer
	AcceptedOffer *domain.Offer
	ResidualOffer *domain.Offer

	OriginalBid *domain.Bid
	AcceptedBid *domain.Bid
	ResidualBid *domain.Bid
}

// Listener receives market events. Dispatch order across listeners is
// shuffled per event so no listener can depend on registration order.
type Listener func(Event)
