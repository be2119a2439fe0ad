package models

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a registered account holding currency
type Account struct {
	ID           int
	Username     string
	PasswordHash string
	Balance      int64
	CreatedAt    time.Time
}

// Asset is an entry in the custody registry for auctionable items
type Asset struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Custodian int       `json:"custodian"`
	CreatedAt time.Time `json:"created_at"`
}

// AuctionStatus is the lifecycle state of an auction. Exactly one of the
// three values describes an auction at any time.
type AuctionStatus string

const (
	StatusOpen      AuctionStatus = "open"
	StatusCancelled AuctionStatus = "cancelled"
	StatusCompleted AuctionStatus = "completed"
)

// Auction is the record for a single-asset open-ascending auction.
// HighBid starts equal to FloorPrice and HighBidderID equal to OwnerID;
// a HighBidderID different from OwnerID means at least one bid was escrowed.
type Auction struct {
	ID           uuid.UUID     `json:"id"`
	OwnerID      int           `json:"owner_id"`
	AssetID      uuid.UUID     `json:"asset_id"`
	FloorPrice   int64         `json:"floor_price"`
	Deadline     time.Time     `json:"deadline"`
	HighBid      int64         `json:"high_bid"`
	HighBidderID int           `json:"high_bidder_id"`
	Status       AuctionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}
