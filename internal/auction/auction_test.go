package auction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/auctionhouse/internal/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// fakeLedger keeps balances, escrows and custody in memory and records the
// order of operations so tests can check refund-before-overwrite.
type fakeLedger struct {
	balances   map[int]int64
	escrows    map[uuid.UUID]int64
	custodians map[uuid.UUID]int
	ops        []string

	failRelease  bool
	failCustody  bool
	releaseCalls int
	custodyCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:   make(map[int]int64),
		escrows:    make(map[uuid.UUID]int64),
		custodians: make(map[uuid.UUID]int),
	}
}

func (l *fakeLedger) Escrow(ctx context.Context, from int, auctionID uuid.UUID, amount int64) error {
	if l.balances[from] < amount {
		return ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.escrows[auctionID] += amount
	l.ops = append(l.ops, fmt.Sprintf("escrow %d %d", from, amount))
	return nil
}

func (l *fakeLedger) Release(ctx context.Context, auctionID uuid.UUID, to int, amount int64) error {
	l.releaseCalls++
	if l.failRelease {
		return errors.New("ledger down")
	}
	if l.escrows[auctionID] < amount {
		return errors.New("escrow underfunded")
	}
	l.escrows[auctionID] -= amount
	l.balances[to] += amount
	l.ops = append(l.ops, fmt.Sprintf("release %d %d", to, amount))
	return nil
}

func (l *fakeLedger) SetAssetCustodian(ctx context.Context, assetID uuid.UUID, custodian int) error {
	l.custodyCalls++
	if l.failCustody {
		return errors.New("registry down")
	}
	l.custodians[assetID] = custodian
	l.ops = append(l.ops, fmt.Sprintf("custody %d", custodian))
	return nil
}

type recorder struct {
	events []Event
}

func (r *recorder) Emit(e Event) { r.events = append(r.events, e) }

const (
	owner   = 1
	bidderX = 2
	bidderY = 3
)

type fixture struct {
	clock    *fakeClock
	ledger   *fakeLedger
	events   *recorder
	assetID  uuid.UUID
	deadline time.Time
	m        *Machine
}

func newFixture(t *testing.T, floor int64) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		ledger:  newFakeLedger(),
		events:  &recorder{},
		assetID: uuid.New(),
	}
	f.deadline = f.clock.now.Add(time.Hour)
	f.ledger.balances[bidderX] = 1000
	f.ledger.balances[bidderY] = 1000
	f.ledger.custodians[f.assetID] = owner
	f.m = New(Deps{Clock: f.clock, Ledger: f.ledger, Events: f.events}, owner, f.assetID, floor, f.deadline)
	return f
}

func TestNew_InitialState(t *testing.T) {
	f := newFixture(t, 100)
	a := f.m.Snapshot()

	if a.Status != models.StatusOpen {
		t.Errorf("expected open status, got %s", a.Status)
	}
	if a.HighBid != 100 {
		t.Errorf("expected initial high bid 100, got %d", a.HighBid)
	}
	if a.HighBidderID != owner {
		t.Errorf("expected owner as initial high bidder, got %d", a.HighBidderID)
	}
	if len(f.events.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.events.events))
	}
	e, ok := f.events.events[0].(NewAuction)
	if !ok {
		t.Fatalf("expected NewAuction event, got %T", f.events.events[0])
	}
	if e.FloorPrice != 100 || e.AssetID != f.assetID {
		t.Errorf("unexpected NewAuction payload: %+v", e)
	}
}

func TestPlaceBid_Guards(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		caller  int
		amount  int64
		wantErr error
	}{
		{
			name:    "BelowFloor",
			caller:  bidderX,
			amount:  80,
			wantErr: ErrBidTooLow,
		},
		{
			name:    "EqualToHighBid",
			caller:  bidderX,
			amount:  100,
			wantErr: ErrBidTooLow,
		},
		{
			name: "BelowExistingBid",
			setup: func(t *testing.T, f *fixture) {
				if err := f.m.PlaceBid(ctx, bidderX, 150); err != nil {
					t.Fatalf("setup bid failed: %v", err)
				}
			},
			caller:  bidderY,
			amount:  120,
			wantErr: ErrBidTooLow,
		},
		{
			name: "AfterDeadline",
			setup: func(t *testing.T, f *fixture) {
				f.clock.now = f.deadline.Add(time.Second)
			},
			caller:  bidderX,
			amount:  150,
			wantErr: ErrDeadlinePassed,
		},
		{
			name: "Cancelled",
			setup: func(t *testing.T, f *fixture) {
				if err := f.m.Cancel(ctx, owner); err != nil {
					t.Fatalf("setup cancel failed: %v", err)
				}
			},
			caller:  bidderX,
			amount:  150,
			wantErr: ErrAuctionCancelled,
		},
		{
			name: "Completed",
			setup: func(t *testing.T, f *fixture) {
				f.clock.now = f.deadline
				if err := f.m.Close(ctx, bidderY); err != nil {
					t.Fatalf("setup close failed: %v", err)
				}
			},
			caller:  bidderX,
			amount:  150,
			wantErr: ErrAuctionCompleted,
		},
		{
			name:    "InsufficientFunds",
			caller:  bidderX,
			amount:  1500,
			wantErr: ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 100)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			before := f.m.Snapshot()

			err := f.m.PlaceBid(ctx, tt.caller, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			after := f.m.Snapshot()
			if after != before {
				t.Errorf("failed bid mutated the record: %+v -> %+v", before, after)
			}
		})
	}
}

func TestPlaceBid_EscrowsAndRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	if err := f.m.PlaceBid(ctx, bidderX, 150); err != nil {
		t.Fatalf("first bid failed: %v", err)
	}
	if got := f.ledger.balances[bidderX]; got != 850 {
		t.Errorf("expected bidder X balance 850, got %d", got)
	}
	if got := f.ledger.escrows[f.m.Snapshot().ID]; got != 150 {
		t.Errorf("expected escrow 150, got %d", got)
	}
	// No refund on the very first bid: the owner never escrowed.
	if f.ledger.releaseCalls != 0 {
		t.Errorf("expected no release on first bid, got %d", f.ledger.releaseCalls)
	}

	if err := f.m.PlaceBid(ctx, bidderY, 200); err != nil {
		t.Fatalf("second bid failed: %v", err)
	}
	// The outgoing bidder is made whole and only the new bid stays escrowed.
	if got := f.ledger.balances[bidderX]; got != 1000 {
		t.Errorf("expected bidder X refunded to 1000, got %d", got)
	}
	if got := f.ledger.balances[bidderY]; got != 800 {
		t.Errorf("expected bidder Y balance 800, got %d", got)
	}
	if got := f.ledger.escrows[f.m.Snapshot().ID]; got != 200 {
		t.Errorf("expected escrow 200, got %d", got)
	}

	// Refund happens after the new escrow is secured, before the record is
	// overwritten: escrow X, escrow Y, release X.
	wantOps := []string{"escrow 2 150", "escrow 3 200", "release 2 150"}
	if len(f.ledger.ops) != len(wantOps) {
		t.Fatalf("expected ops %v, got %v", wantOps, f.ledger.ops)
	}
	for i, op := range wantOps {
		if f.ledger.ops[i] != op {
			t.Fatalf("expected ops %v, got %v", wantOps, f.ledger.ops)
		}
	}

	a := f.m.Snapshot()
	if a.HighBid != 200 || a.HighBidderID != bidderY {
		t.Errorf("expected high bid 200 by %d, got %d by %d", bidderY, a.HighBid, a.HighBidderID)
	}
}

func TestPlaceBid_StrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.ledger.balances[bidderX] = 10000
	f.ledger.balances[bidderY] = 10000

	bidders := []int{bidderX, bidderY, bidderX, bidderY}
	last := f.m.Snapshot().HighBid
	for i, bidder := range bidders {
		amount := int64(150 + 50*i)
		if err := f.m.PlaceBid(ctx, bidder, amount); err != nil {
			t.Fatalf("bid %d failed: %v", i, err)
		}
		a := f.m.Snapshot()
		if a.HighBid <= last {
			t.Fatalf("high bid not strictly increasing: %d after %d", a.HighBid, last)
		}
		if a.HighBid < a.FloorPrice {
			t.Fatalf("high bid %d fell below floor %d", a.HighBid, a.FloorPrice)
		}
		last = a.HighBid
	}
}

func TestPlaceBid_AtDeadlineSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.clock.now = f.deadline

	if err := f.m.PlaceBid(ctx, bidderX, 150); err != nil {
		t.Fatalf("bid at exactly the deadline should succeed, got %v", err)
	}
}

func TestPlaceBid_RefundFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	if err := f.m.PlaceBid(ctx, bidderX, 150); err != nil {
		t.Fatalf("first bid failed: %v", err)
	}

	f.ledger.failRelease = true
	before := f.m.Snapshot()
	err := f.m.PlaceBid(ctx, bidderY, 200)
	if err == nil {
		t.Fatal("expected error when refund fails")
	}
	if after := f.m.Snapshot(); after != before {
		t.Errorf("failed transition mutated the record: %+v -> %+v", before, after)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("OwnerCancelsFreshAuction", func(t *testing.T) {
		f := newFixture(t, 100)
		if err := f.m.Cancel(ctx, owner); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if got := f.m.Snapshot().Status; got != models.StatusCancelled {
			t.Errorf("expected cancelled status, got %s", got)
		}
		if got := f.ledger.custodians[f.assetID]; got != owner {
			t.Errorf("expected asset with owner, got %d", got)
		}
	})

	t.Run("NotOwner", func(t *testing.T) {
		f := newFixture(t, 100)
		if err := f.m.Cancel(ctx, bidderX); !errors.Is(err, ErrNotOwner) {
			t.Fatalf("expected ErrNotOwner, got %v", err)
		}
	})

	t.Run("AfterBidPlaced", func(t *testing.T) {
		f := newFixture(t, 100)
		if err := f.m.PlaceBid(ctx, bidderX, 150); err != nil {
			t.Fatalf("bid failed: %v", err)
		}
		if err := f.m.Cancel(ctx, owner); !errors.Is(err, ErrBidsPlaced) {
			t.Fatalf("expected ErrBidsPlaced, got %v", err)
		}
	})

	t.Run("AfterCompletion", func(t *testing.T) {
		f := newFixture(t, 100)
		f.clock.now = f.deadline
		if err := f.m.Close(ctx, bidderX); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := f.m.Cancel(ctx, owner); !errors.Is(err, ErrAuctionCompleted) {
			t.Fatalf("expected ErrAuctionCompleted, got %v", err)
		}
	})
}

func TestClose(t *testing.T) {
	ctx := context.Background()

	t.Run("BeforeDeadline", func(t *testing.T) {
		f := newFixture(t, 100)
		if err := f.m.Close(ctx, bidderX); !errors.Is(err, ErrDeadlineNotReached) {
			t.Fatalf("expected ErrDeadlineNotReached, got %v", err)
		}
	})

	t.Run("WithWinningBid", func(t *testing.T) {
		f := newFixture(t, 100)
		if err := f.m.PlaceBid(ctx, bidderX, 150); err != nil {
			t.Fatalf("bid failed: %v", err)
		}
		f.clock.now = f.deadline

		// Any caller may close, not just the owner or a bidder.
		if err := f.m.Close(ctx, bidderY); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		a := f.m.Snapshot()
		if a.Status != models.StatusCompleted {
			t.Errorf("expected completed status, got %s", a.Status)
		}
		if got := f.ledger.custodians[f.assetID]; got != bidderX {
			t.Errorf("expected asset with winner %d, got %d", bidderX, got)
		}
		if got := f.ledger.balances[owner]; got != 150 {
			t.Errorf("expected owner paid 150, got %d", got)
		}
		if got := f.ledger.escrows[a.ID]; got != 0 {
			t.Errorf("expected empty escrow, got %d", got)
		}
	})

	t.Run("NoBids", func(t *testing.T) {
		f := newFixture(t, 100)
		f.clock.now = f.deadline
		if err := f.m.Close(ctx, bidderX); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if got := f.ledger.custodians[f.assetID]; got != owner {
			t.Errorf("expected asset back with owner, got %d", got)
		}
		// Nothing was escrowed, so nothing may be released.
		if f.ledger.releaseCalls != 0 {
			t.Errorf("expected no release for unsold auction, got %d", f.ledger.releaseCalls)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		f := newFixture(t, 100)
		if err := f.m.Cancel(ctx, owner); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		f.clock.now = f.deadline
		if err := f.m.Close(ctx, bidderX); err != nil {
			t.Fatalf("close of cancelled auction failed: %v", err)
		}
		a := f.m.Snapshot()
		if a.Status != models.StatusCompleted {
			t.Errorf("expected completed status, got %s", a.Status)
		}
		if got := f.ledger.custodians[f.assetID]; got != owner {
			t.Errorf("expected asset with owner, got %d", got)
		}
	})

	t.Run("Twice", func(t *testing.T) {
		f := newFixture(t, 100)
		f.clock.now = f.deadline
		if err := f.m.Close(ctx, bidderX); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := f.m.Close(ctx, bidderX); !errors.Is(err, ErrAuctionCompleted) {
			t.Fatalf("expected ErrAuctionCompleted, got %v", err)
		}
	})

	t.Run("AtDeadlineSucceeds", func(t *testing.T) {
		f := newFixture(t, 100)
		f.clock.now = f.deadline
		if err := f.m.Close(ctx, owner); err != nil {
			t.Fatalf("close at exactly the deadline should succeed, got %v", err)
		}
	})

	t.Run("CustodyFailureLeavesOpen", func(t *testing.T) {
		f := newFixture(t, 100)
		if err := f.m.PlaceBid(ctx, bidderX, 150); err != nil {
			t.Fatalf("bid failed: %v", err)
		}
		f.clock.now = f.deadline
		f.ledger.failCustody = true

		if err := f.m.Close(ctx, bidderY); err == nil {
			t.Fatal("expected error when custody transfer fails")
		}
		a := f.m.Snapshot()
		if a.Status != models.StatusOpen {
			t.Errorf("failed close should leave the auction open, got %s", a.Status)
		}
		// No payout happened either: the escrow is intact.
		if got := f.ledger.escrows[a.ID]; got != 150 {
			t.Errorf("expected escrow untouched at 150, got %d", got)
		}
	})

	t.Run("PayoutFailureRevertsCustody", func(t *testing.T) {
		f := newFixture(t, 100)
		if err := f.m.PlaceBid(ctx, bidderX, 150); err != nil {
			t.Fatalf("bid failed: %v", err)
		}
		f.clock.now = f.deadline
		f.ledger.failRelease = true

		err := f.m.Close(ctx, bidderY)
		if err == nil {
			t.Fatal("expected error when payout fails")
		}
		if got := f.m.Snapshot().Status; got != models.StatusOpen {
			t.Errorf("failed close should leave the auction open, got %s", got)
		}
		if got := f.ledger.custodians[f.assetID]; got != owner {
			t.Errorf("expected custody reverted to owner, got %d", got)
		}
	})
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	setupWon := func(t *testing.T) *fixture {
		t.Helper()
		f := newFixture(t, 100)
		if err := f.m.PlaceBid(ctx, bidderX, 150); err != nil {
			t.Fatalf("bid failed: %v", err)
		}
		f.clock.now = f.deadline
		if err := f.m.Close(ctx, bidderY); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		return f
	}

	t.Run("BeforeCompletion", func(t *testing.T) {
		f := newFixture(t, 100)
		if err := f.m.Claim(ctx, bidderX); !errors.Is(err, ErrAuctionNotCompleted) {
			t.Fatalf("expected ErrAuctionNotCompleted, got %v", err)
		}
	})

	t.Run("WinnerClaims", func(t *testing.T) {
		f := setupWon(t)
		if err := f.m.Claim(ctx, bidderX); err != nil {
			t.Fatalf("claim failed: %v", err)
		}
		if got := f.ledger.custodians[f.assetID]; got != bidderX {
			t.Errorf("expected asset with winner, got %d", got)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		f := setupWon(t)
		for i := 0; i < 3; i++ {
			if err := f.m.Claim(ctx, bidderX); err != nil {
				t.Fatalf("claim %d failed: %v", i, err)
			}
			if got := f.ledger.custodians[f.assetID]; got != bidderX {
				t.Fatalf("claim %d: expected asset with winner, got %d", i, got)
			}
		}
	})

	t.Run("NotWinner", func(t *testing.T) {
		f := setupWon(t)
		if err := f.m.Claim(ctx, bidderY); !errors.Is(err, ErrNotWinningBidder) {
			t.Fatalf("expected ErrNotWinningBidder, got %v", err)
		}
		if err := f.m.Claim(ctx, owner); !errors.Is(err, ErrNotWinningBidder) {
			t.Fatalf("expected ErrNotWinningBidder for owner, got %v", err)
		}
	})
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	if err := f.m.PlaceBid(ctx, bidderX, 150); err != nil {
		t.Fatalf("bid failed: %v", err)
	}
	f.clock.now = f.deadline
	if err := f.m.Close(ctx, bidderY); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	kinds := make([]string, len(f.events.events))
	for i, e := range f.events.events {
		kinds[i] = e.Kind()
	}
	want := []string{"new_auction", "bid_placed", "auction_closed"}
	if len(kinds) != len(want) {
		t.Fatalf("expected events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, kinds)
		}
	}

	closed := f.events.events[2].(AuctionClosed)
	if closed.Winner != bidderX || closed.Price != 150 {
		t.Errorf("unexpected AuctionClosed payload: %+v", closed)
	}
}
