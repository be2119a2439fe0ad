package auction

import "errors"

// Guard errors. Every failed precondition aborts the call synchronously and
// leaves the auction record unchanged.
var (
	ErrAuctionCancelled    = errors.New("auction has been cancelled")
	ErrAuctionCompleted    = errors.New("auction has already been completed")
	ErrDeadlinePassed      = errors.New("auction deadline has passed")
	ErrDeadlineNotReached  = errors.New("auction has not ended yet")
	ErrBidTooLow           = errors.New("bid must be higher than current high bid")
	ErrNotOwner            = errors.New("only the owner can cancel the auction")
	ErrBidsPlaced          = errors.New("cannot cancel auction if there are bids placed")
	ErrAuctionNotCompleted = errors.New("auction has not completed yet")
	ErrNotWinningBidder    = errors.New("caller is not the winning bidder")
)

// ErrInsufficientFunds is returned by Ledger implementations when the bidder's
// balance cannot cover the escrow debit.
var ErrInsufficientFunds = errors.New("insufficient funds")
