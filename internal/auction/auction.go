// Package auction implements the state machine for a single-asset
// open-ascending auction: strictly increasing escrowed bids until a deadline,
// then settlement to the highest bidder or back to the owner.
//
// The machine holds the only mutable copy of its auction record. Identity,
// time, value transfer and asset custody are injected collaborators; the host
// is responsible for serializing calls against one machine.
package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/auctionhouse/internal/models"
)

// Clock supplies the current time for deadline guards.
type Clock interface {
	Now() time.Time
}

// Ledger moves currency and asset custody on behalf of the machine. Each
// method must be atomic: either the full movement happens or none of it.
type Ledger interface {
	// Escrow debits amount from the account into the auction's escrow.
	// Returns ErrInsufficientFunds when the balance cannot cover it.
	Escrow(ctx context.Context, from int, auctionID uuid.UUID, amount int64) error
	// Release credits amount from the auction's escrow to the account.
	Release(ctx context.Context, auctionID uuid.UUID, to int, amount int64) error
	// SetAssetCustodian reassigns who holds the auctioned asset.
	SetAssetCustodian(ctx context.Context, assetID uuid.UUID, custodian int) error
}

// Deps are the external collaborators a machine runs against.
type Deps struct {
	Clock  Clock
	Ledger Ledger
	Events Emitter
}

// Machine validates and applies transitions on one auction record.
type Machine struct {
	deps Deps
	a    models.Auction
}

// New creates an open auction owned by the given account, with the floor
// price as the initial high bid and the owner as the initial high bidder.
// No validation is performed on the floor price or the deadline; a deadline
// already in the past simply yields an auction that can only be closed.
// Emits NewAuction.
func New(deps Deps, owner int, assetID uuid.UUID, floorPrice int64, deadline time.Time) *Machine {
	m := &Machine{
		deps: deps,
		a: models.Auction{
			ID:           uuid.New(),
			OwnerID:      owner,
			AssetID:      assetID,
			FloorPrice:   floorPrice,
			Deadline:     deadline,
			HighBid:      floorPrice,
			HighBidderID: owner,
			Status:       models.StatusOpen,
			CreatedAt:    deps.Clock.Now(),
		},
	}
	m.emit(NewAuction{
		AuctionID:  m.a.ID,
		AssetID:    assetID,
		FloorPrice: floorPrice,
		Deadline:   deadline,
	})
	return m
}

// Restore rebuilds a machine from a persisted auction record.
func Restore(deps Deps, a models.Auction) *Machine {
	return &Machine{deps: deps, a: a}
}

// Snapshot returns a copy of the current auction record.
func (m *Machine) Snapshot() models.Auction {
	return m.a
}

// PlaceBid escrows amount from the caller and makes it the new high bid.
// The previous high bidder's escrow is refunded before the record is
// overwritten, so at no point are two bidders owed the same escrowed value.
// The deadline is inclusive: a bid at exactly the deadline is accepted.
func (m *Machine) PlaceBid(ctx context.Context, caller int, amount int64) error {
	switch m.a.Status {
	case models.StatusCancelled:
		return ErrAuctionCancelled
	case models.StatusCompleted:
		return ErrAuctionCompleted
	}
	if m.deps.Clock.Now().After(m.a.Deadline) {
		return ErrDeadlinePassed
	}
	if amount <= m.a.HighBid {
		return ErrBidTooLow
	}

	if err := m.deps.Ledger.Escrow(ctx, caller, m.a.ID, amount); err != nil {
		return err
	}
	// First bid: the initial high bidder is the owner, who never escrowed.
	if m.a.HighBidderID != m.a.OwnerID {
		if err := m.deps.Ledger.Release(ctx, m.a.ID, m.a.HighBidderID, m.a.HighBid); err != nil {
			if rbErr := m.deps.Ledger.Release(ctx, m.a.ID, caller, amount); rbErr != nil {
				return fmt.Errorf("refund previous bidder: %w (rollback also failed: %v)", err, rbErr)
			}
			return fmt.Errorf("refund previous bidder: %w", err)
		}
	}

	m.a.HighBid = amount
	m.a.HighBidderID = caller
	m.emit(BidPlaced{AuctionID: m.a.ID, Bid: amount, Bidder: caller})
	return nil
}

// Cancel withdraws the auction before any bid has been placed. Only the
// owner may cancel, and only while the initial high bidder (the owner) still
// holds the high bid, so there is never an escrow to refund here.
func (m *Machine) Cancel(ctx context.Context, caller int) error {
	if caller != m.a.OwnerID {
		return ErrNotOwner
	}
	if m.a.Status == models.StatusCompleted {
		return ErrAuctionCompleted
	}
	if m.a.HighBidderID != m.a.OwnerID {
		return ErrBidsPlaced
	}

	if err := m.deps.Ledger.SetAssetCustodian(ctx, m.a.AssetID, m.a.OwnerID); err != nil {
		return fmt.Errorf("return asset to owner: %w", err)
	}
	m.a.Status = models.StatusCancelled
	m.emit(AuctionCancelled{AuctionID: m.a.ID})
	return nil
}

// Close finalizes the auction once the deadline has been reached. Any caller
// may close; requiring the owner would let an unavailable owner freeze the
// winner's escrow. A cancelled or bid-free auction settles back to the
// owner; otherwise the asset moves to the winner and the escrowed high bid
// is paid out to the owner. The deadline is inclusive.
func (m *Machine) Close(ctx context.Context, caller int) error {
	if m.a.Status == models.StatusCompleted {
		return ErrAuctionCompleted
	}
	if m.deps.Clock.Now().Before(m.a.Deadline) {
		return ErrDeadlineNotReached
	}

	winner := m.a.OwnerID
	if m.a.Status != models.StatusCancelled && m.a.HighBidderID != m.a.OwnerID {
		winner = m.a.HighBidderID
	}
	if err := m.deps.Ledger.SetAssetCustodian(ctx, m.a.AssetID, winner); err != nil {
		return fmt.Errorf("assign asset custody: %w", err)
	}
	if winner != m.a.OwnerID {
		if err := m.deps.Ledger.Release(ctx, m.a.ID, m.a.OwnerID, m.a.HighBid); err != nil {
			if rbErr := m.deps.Ledger.SetAssetCustodian(ctx, m.a.AssetID, m.a.OwnerID); rbErr != nil {
				return fmt.Errorf("pay out winning bid: %w (custody rollback also failed: %v)", err, rbErr)
			}
			return fmt.Errorf("pay out winning bid: %w", err)
		}
	}

	m.a.Status = models.StatusCompleted
	m.emit(AuctionClosed{AuctionID: m.a.ID, Winner: winner, Price: m.a.HighBid})
	return nil
}

// Claim re-asserts asset custody for the winning bidder after completion.
// Settlement already happened in Close, so this is an idempotent
// re-affirmation, or a repair path if the external registry drifted.
func (m *Machine) Claim(ctx context.Context, caller int) error {
	if m.a.Status != models.StatusCompleted {
		return ErrAuctionNotCompleted
	}
	if caller != m.a.HighBidderID {
		return ErrNotWinningBidder
	}
	if err := m.deps.Ledger.SetAssetCustodian(ctx, m.a.AssetID, m.a.HighBidderID); err != nil {
		return fmt.Errorf("assign asset custody: %w", err)
	}
	return nil
}

func (m *Machine) emit(e Event) {
	if m.deps.Events != nil {
		m.deps.Events.Emit(e)
	}
}
