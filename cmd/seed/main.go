package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openlot/auctionhouse/internal/config"
	"github.com/openlot/auctionhouse/internal/db"
	"github.com/openlot/auctionhouse/internal/house"
)

// Seed the database with demo accounts, an asset, and an open auction
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Msgf("failed to load config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Msgf("failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// First check if we already have auctions
	auctions, err := database.ListAuctions(ctx)
	if err != nil {
		log.Fatal().Msgf("failed to check auctions: %v", err)
	}
	if len(auctions) > 0 {
		fmt.Printf("Database already has %d auctions. No need to seed.\n", len(auctions))
		os.Exit(0)
	}

	// Create demo accounts if they don't exist (password: "password")
	const demoHash = "$2a$10$XLhV7TU4dIvHO1d9UKgoT.Kt1XCYIbLV4LkQqmXGtN6VBnsmgS.G."
	sellerID := ensureAccount(ctx, database, "seller1", demoHash)
	bidderID := ensureAccount(ctx, database, "bidder1", demoHash)

	// Give the bidder spending money
	if err := database.Deposit(ctx, bidderID, 100_000); err != nil {
		log.Fatal().Msgf("failed to fund bidder: %v", err)
	}

	// Mint an asset held by the seller
	asset, err := database.CreateAsset(ctx, "demo-lot-1", sellerID)
	if err != nil {
		log.Fatal().Msgf("failed to create asset: %v", err)
	}

	// Open an auction on it, one hour of bidding
	h := house.NewHouse(database, house.SystemClock{}, nil)
	a, err := h.Create(ctx, sellerID, asset.ID, 100, time.Now().Add(time.Hour))
	if err != nil {
		log.Fatal().Msgf("failed to create auction: %v", err)
	}

	fmt.Printf("Seeded auction %s: asset=%s floor=%d deadline=%s\n",
		a.ID, a.AssetID, a.FloorPrice, a.Deadline.Format(time.RFC3339))
}

func ensureAccount(ctx context.Context, database *db.DB, username, passwordHash string) int {
	account, err := database.GetAccountByUsername(ctx, username)
	if err == nil {
		return account.ID
	}
	account, err = database.CreateAccount(ctx, username, passwordHash)
	if err != nil {
		log.Fatal().Msgf("failed to create account %s: %v", username, err)
	}
	return account.ID
}
