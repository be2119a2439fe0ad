package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openlot/auctionhouse/internal/auction"
	"github.com/openlot/auctionhouse/internal/auth"
	"github.com/openlot/auctionhouse/internal/db"
	"github.com/openlot/auctionhouse/internal/house"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	House       *house.House
	AuthService *auth.AuthService
}

// NewHandler creates a new handler
func NewHandler(db *db.DB, h *house.House, authService *auth.AuthService) *Handler {
	return &Handler{DB: db, House: h, AuthService: authService}
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// auctionError maps guard failures onto HTTP status codes. Guard errors are
// caller errors: the auction record is unchanged and the caller may retry
// with different arguments.
func auctionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, house.ErrAuctionNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, auction.ErrNotOwner),
		errors.Is(err, auction.ErrNotWinningBidder),
		errors.Is(err, house.ErrNotAssetCustodian):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, auction.ErrInsufficientFunds):
		writeError(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, auction.ErrAuctionCancelled),
		errors.Is(err, auction.ErrAuctionCompleted),
		errors.Is(err, auction.ErrAuctionNotCompleted),
		errors.Is(err, auction.ErrDeadlinePassed),
		errors.Is(err, auction.ErrDeadlineNotReached),
		errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrBidsPlaced):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// Register handles account registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, "Username and password required", http.StatusBadRequest)
		return
	}

	account, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, "Failed to register account", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       account.ID,
		"username": account.Username,
	})
}

// Login handles account login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens and resolves the calling account
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		accountID, err := h.AuthService.GetAccountFromToken(tokenString)
		if err != nil {
			writeError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "account_id", accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) (int, bool) {
	id, ok := r.Context().Value("account_id").(int)
	return id, ok
}

// GetAccount returns the calling account's balance
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(r)
	if !ok {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	account, err := h.DB.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, "Failed to retrieve account", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       account.ID,
		"username": account.Username,
		"balance":  account.Balance,
	})
}

// CreateAsset registers a new asset held by the caller
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(r)
	if !ok {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "Asset name required", http.StatusBadRequest)
		return
	}

	asset, err := h.DB.CreateAsset(r.Context(), req.Name, accountID)
	if err != nil {
		writeError(w, "Failed to create asset", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(asset)
}

// GetAsset returns one asset's registry record
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Invalid asset ID", http.StatusBadRequest)
		return
	}

	asset, err := h.DB.GetAsset(r.Context(), assetID)
	if err != nil {
		writeError(w, "Asset not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(asset)
}

// CreateAuction opens a new auction for an asset held by the caller
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(r)
	if !ok {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		AssetID    string `json:"asset_id"`
		FloorPrice int64  `json:"floor_price"`
		Deadline   string `json:"deadline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	assetID, err := uuid.Parse(req.AssetID)
	if err != nil {
		writeError(w, "Invalid asset ID", http.StatusBadRequest)
		return
	}
	if req.FloorPrice < 0 {
		writeError(w, "Floor price must not be negative", http.StatusBadRequest)
		return
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		writeError(w, "Invalid deadline, expected RFC3339", http.StatusBadRequest)
		return
	}

	a, err := h.House.Create(r.Context(), accountID, assetID, req.FloorPrice, deadline)
	if err != nil {
		auctionError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(a)
}

// ListAuctions returns all auctions, newest first
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.House.List(r.Context())
	if err != nil {
		writeError(w, "Failed to retrieve auctions", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(auctions)
}

// GetAuction returns one auction snapshot
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Invalid auction ID", http.StatusBadRequest)
		return
	}

	a, err := h.House.Get(r.Context(), auctionID)
	if err != nil {
		auctionError(w, err)
		return
	}
	json.NewEncoder(w).Encode(a)
}

// PlaceBid places a bid on an auction
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(r)
	if !ok {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	auctionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Invalid auction ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		writeError(w, "Bid amount must be positive", http.StatusBadRequest)
		return
	}

	a, err := h.House.PlaceBid(r.Context(), auctionID, accountID, req.Amount)
	if err != nil {
		auctionError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(a)
}

// CancelAuction withdraws a bid-free auction
func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(r)
	if !ok {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	auctionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Invalid auction ID", http.StatusBadRequest)
		return
	}

	a, err := h.House.Cancel(r.Context(), auctionID, accountID)
	if err != nil {
		auctionError(w, err)
		return
	}
	json.NewEncoder(w).Encode(a)
}

// CloseAuction finalizes an auction past its deadline. Any authenticated
// caller may close.
func (h *Handler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(r)
	if !ok {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	auctionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Invalid auction ID", http.StatusBadRequest)
		return
	}

	a, err := h.House.Close(r.Context(), auctionID, accountID)
	if err != nil {
		auctionError(w, err)
		return
	}
	json.NewEncoder(w).Encode(a)
}

// ClaimAsset re-asserts custody for the winning bidder
func (h *Handler) ClaimAsset(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(r)
	if !ok {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	auctionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Invalid auction ID", http.StatusBadRequest)
		return
	}

	a, err := h.House.Claim(r.Context(), auctionID, accountID)
	if err != nil {
		auctionError(w, err)
		return
	}
	json.NewEncoder(w).Encode(a)
}
