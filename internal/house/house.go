// Package house hosts live auction machines. It serializes calls per
// auction, persists a snapshot after every successful transition, and
// forwards emitted events to the configured sink.
package house

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openlot/auctionhouse/internal/auction"
	"github.com/openlot/auctionhouse/internal/db"
	"github.com/openlot/auctionhouse/internal/models"
)

// ErrAuctionNotFound is returned for operations on unknown auction IDs.
var ErrAuctionNotFound = errors.New("auction not found")

// ErrNotAssetCustodian is returned when a caller tries to auction an asset
// they do not currently hold.
var ErrNotAssetCustodian = errors.New("caller does not hold the asset")

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type entry struct {
	mu sync.Mutex
	m  *auction.Machine
}

// House owns every auction machine in the process. Each call against a given
// auction runs to completion before the next one is accepted.
type House struct {
	DB     *db.DB
	clock  auction.Clock
	events auction.Emitter

	mu       sync.RWMutex
	machines map[uuid.UUID]*entry
}

// NewHouse creates an empty house. Call Load to restore persisted auctions.
func NewHouse(database *db.DB, clock auction.Clock, events auction.Emitter) *House {
	return &House{
		DB:       database,
		clock:    clock,
		events:   events,
		machines: make(map[uuid.UUID]*entry),
	}
}

// Load restores machines for all persisted auctions. Completed auctions are
// restored too: they stay queryable and the winner can still re-claim.
func (h *House) Load(ctx context.Context) error {
	auctions, err := h.DB.ListAuctions(ctx)
	if err != nil {
		return fmt.Errorf("load auctions: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range auctions {
		h.machines[a.ID] = &entry{m: auction.Restore(h.deps(), a)}
	}
	log.Info().Msgf("restored %d auctions", len(auctions))
	return nil
}

func (h *House) deps() auction.Deps {
	return auction.Deps{Clock: h.clock, Ledger: h.DB, Events: h.events}
}

// Create opens a new auction for an asset the caller currently holds. The
// machine itself accepts any floor price and deadline; only custody of the
// asset is checked here.
func (h *House) Create(ctx context.Context, owner int, assetID uuid.UUID, floorPrice int64, deadline time.Time) (models.Auction, error) {
	asset, err := h.DB.GetAsset(ctx, assetID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("get asset: %w", err)
	}
	if asset.Custodian != owner {
		return models.Auction{}, ErrNotAssetCustodian
	}

	m := auction.New(h.deps(), owner, assetID, floorPrice, deadline)
	snapshot := m.Snapshot()
	if err := h.DB.CreateAuction(ctx, &snapshot); err != nil {
		return models.Auction{}, err
	}

	h.mu.Lock()
	h.machines[snapshot.ID] = &entry{m: m}
	h.mu.Unlock()

	log.Info().Msgf("auction %s created: asset=%s floor=%d deadline=%s",
		snapshot.ID, assetID, floorPrice, deadline.Format(time.RFC3339))
	return snapshot, nil
}

// PlaceBid escrows a bid on the given auction.
func (h *House) PlaceBid(ctx context.Context, auctionID uuid.UUID, caller int, amount int64) (models.Auction, error) {
	return h.run(ctx, auctionID, func(m *auction.Machine) error {
		return m.PlaceBid(ctx, caller, amount)
	})
}

// Cancel withdraws a bid-free auction on behalf of its owner.
func (h *House) Cancel(ctx context.Context, auctionID uuid.UUID, caller int) (models.Auction, error) {
	return h.run(ctx, auctionID, func(m *auction.Machine) error {
		return m.Cancel(ctx, caller)
	})
}

// Close finalizes an auction whose deadline has been reached.
func (h *House) Close(ctx context.Context, auctionID uuid.UUID, caller int) (models.Auction, error) {
	return h.run(ctx, auctionID, func(m *auction.Machine) error {
		return m.Close(ctx, caller)
	})
}

// Claim re-asserts asset custody for the winner of a completed auction.
func (h *House) Claim(ctx context.Context, auctionID uuid.UUID, caller int) (models.Auction, error) {
	return h.run(ctx, auctionID, func(m *auction.Machine) error {
		return m.Claim(ctx, caller)
	})
}

// run executes one serialized transition and persists the resulting snapshot.
func (h *House) run(ctx context.Context, auctionID uuid.UUID, op func(*auction.Machine) error) (models.Auction, error) {
	h.mu.RLock()
	e, ok := h.machines[auctionID]
	h.mu.RUnlock()
	if !ok {
		return models.Auction{}, ErrAuctionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := op(e.m); err != nil {
		return models.Auction{}, err
	}

	snapshot := e.m.Snapshot()
	if err := h.DB.UpdateAuction(ctx, &snapshot); err != nil {
		log.Error().Msgf("failed to persist auction %s: %v", auctionID, err)
		return models.Auction{}, fmt.Errorf("persist auction: %w", err)
	}
	return snapshot, nil
}

// Get returns the persisted snapshot of one auction.
func (h *House) Get(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	h.mu.RLock()
	_, ok := h.machines[auctionID]
	h.mu.RUnlock()
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return h.DB.GetAuction(ctx, auctionID)
}

// List returns all persisted auction snapshots, newest first.
func (h *House) List(ctx context.Context) ([]models.Auction, error) {
	return h.DB.ListAuctions(ctx)
}
