package auction

import (
	"time"

	"github.com/google/uuid"
)

// Event is a fire-and-forget notification emitted after a successful
// transition. Delivery is best effort; the machine never depends on it.
type Event interface {
	Kind() string
}

// NewAuction is emitted once, at construction.
type NewAuction struct {
	AuctionID  uuid.UUID `json:"auction_id"`
	AssetID    uuid.UUID `json:"asset_id"`
	FloorPrice int64     `json:"floor_price"`
	Deadline   time.Time `json:"deadline"`
}

func (NewAuction) Kind() string { return "new_auction" }

// BidPlaced is emitted on each accepted bid.
type BidPlaced struct {
	AuctionID uuid.UUID `json:"auction_id"`
	Bid       int64     `json:"bid"`
	Bidder    int       `json:"bidder"`
}

func (BidPlaced) Kind() string { return "bid_placed" }

// AuctionCancelled is emitted when the owner withdraws a bid-free auction.
type AuctionCancelled struct {
	AuctionID uuid.UUID `json:"auction_id"`
}

func (AuctionCancelled) Kind() string { return "auction_cancelled" }

// AuctionClosed is emitted when the auction is finalized. Winner equals the
// owner when the auction was cancelled or received no bids.
type AuctionClosed struct {
	AuctionID uuid.UUID `json:"auction_id"`
	Winner    int       `json:"winner"`
	Price     int64     `json:"price"`
}

func (AuctionClosed) Kind() string { return "auction_closed" }

// Emitter receives domain events.
type Emitter interface {
	Emit(e Event)
}
