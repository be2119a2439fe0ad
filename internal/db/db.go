package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlot/auctionhouse/internal/auction"
	"github.com/openlot/auctionhouse/internal/models"
)

// DB wraps a PostgreSQL connection pool. It is the ledger of record: account
// balances, per-auction escrow balances, the asset custody registry, and
// auction snapshots all live here.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateAccount inserts a new account
func (db *DB) CreateAccount(ctx context.Context, username, passwordHash string) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO accounts (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, balance, created_at",
		username, passwordHash).Scan(&account.ID, &account.Username, &account.PasswordHash, &account.Balance, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// GetAccountByUsername retrieves an account by username
func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, balance, created_at FROM accounts WHERE username = $1",
		username).Scan(&account.ID, &account.Username, &account.PasswordHash, &account.Balance, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetAccount retrieves an account by ID
func (db *DB) GetAccount(ctx context.Context, id int) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, balance, created_at FROM accounts WHERE id = $1",
		id).Scan(&account.ID, &account.Username, &account.PasswordHash, &account.Balance, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// Deposit credits an account balance. Used by seeding and tests; real money
// enters the system outside this service.
func (db *DB) Deposit(ctx context.Context, accountID int, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	tag, err := db.Pool.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1 WHERE id = $2", amount, accountID)
	if err != nil {
		return fmt.Errorf("failed to deposit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account not found")
	}
	return nil
}

// CreateAsset inserts a new asset with its initial custodian
func (db *DB) CreateAsset(ctx context.Context, name string, custodian int) (*models.Asset, error) {
	asset := &models.Asset{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO assets (id, name, custodian) VALUES ($1, $2, $3) RETURNING id, name, custodian, created_at",
		uuid.New(), name, custodian).Scan(&asset.ID, &asset.Name, &asset.Custodian, &asset.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}
	return asset, nil
}

// GetAsset retrieves an asset by ID
func (db *DB) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	asset := &models.Asset{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, name, custodian, created_at FROM assets WHERE id = $1",
		id).Scan(&asset.ID, &asset.Name, &asset.Custodian, &asset.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

// SetAssetCustodian reassigns the registry record of who holds an asset
func (db *DB) SetAssetCustodian(ctx context.Context, assetID uuid.UUID, custodian int) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE assets SET custodian = $1 WHERE id = $2", custodian, assetID)
	if err != nil {
		return fmt.Errorf("failed to set asset custodian: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset not found")
	}
	return nil
}

// Escrow atomically debits an account and credits the auction's escrow.
// Returns auction.ErrInsufficientFunds if the balance cannot cover the debit.
func (db *DB) Escrow(ctx context.Context, from int, auctionID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("escrow amount must be positive")
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Conditional update doubles as the balance check; no row means the
	// account is missing or underfunded.
	tag, err := tx.Exec(ctx,
		"UPDATE accounts SET balance = balance - $1 WHERE id = $2 AND balance >= $1",
		amount, from)
	if err != nil {
		return fmt.Errorf("failed to debit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", from).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check account existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("account not found")
		}
		return auction.ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO escrows (auction_id, balance) VALUES ($1, $2) "+
			"ON CONFLICT (auction_id) DO UPDATE SET balance = escrows.balance + $2",
		auctionID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit escrow: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Release atomically debits the auction's escrow and credits an account
func (db *DB) Release(ctx context.Context, auctionID uuid.UUID, to int, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("release amount must be positive")
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE escrows SET balance = balance - $1 WHERE auction_id = $2 AND balance >= $1",
		amount, auctionID)
	if err != nil {
		return fmt.Errorf("failed to debit escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow underfunded or missing")
	}

	tag, err = tx.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1 WHERE id = $2", amount, to)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account not found")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// EscrowBalance returns the current escrow balance for an auction, zero if
// no escrow row exists yet
func (db *DB) EscrowBalance(ctx context.Context, auctionID uuid.UUID) (int64, error) {
	var balance int64
	err := db.Pool.QueryRow(ctx,
		"SELECT balance FROM escrows WHERE auction_id = $1", auctionID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get escrow balance: %w", err)
	}
	return balance, nil
}

// CreateAuction inserts a new auction snapshot
func (db *DB) CreateAuction(ctx context.Context, a *models.Auction) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO auctions (id, owner_id, asset_id, floor_price, deadline, high_bid, high_bidder, status, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		a.ID, a.OwnerID, a.AssetID, a.FloorPrice, a.Deadline, a.HighBid, a.HighBidderID, a.Status, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

// UpdateAuction persists the mutable fields of an auction snapshot
func (db *DB) UpdateAuction(ctx context.Context, a *models.Auction) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE auctions SET high_bid = $1, high_bidder = $2, status = $3 WHERE id = $4",
		a.HighBid, a.HighBidderID, a.Status, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("auction not found")
	}
	return nil
}

// GetAuction retrieves an auction snapshot by ID
func (db *DB) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a := &models.Auction{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, owner_id, asset_id, floor_price, deadline, high_bid, high_bidder, status, created_at "+
			"FROM auctions WHERE id = $1",
		id).Scan(&a.ID, &a.OwnerID, &a.AssetID, &a.FloorPrice, &a.Deadline, &a.HighBid, &a.HighBidderID, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

// ListAuctions retrieves all auction snapshots, newest first
func (db *DB) ListAuctions(ctx context.Context) ([]models.Auction, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, owner_id, asset_id, floor_price, deadline, high_bid, high_bidder, status, created_at
		FROM auctions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []models.Auction
	for rows.Next() {
		var a models.Auction
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.AssetID, &a.FloorPrice, &a.Deadline, &a.HighBid, &a.HighBidderID, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return auctions, nil
}
