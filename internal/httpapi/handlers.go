package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Taha-Seddik/car-auction-backend/internal/domain"
)

// Store is the persistence surface the REST API reads and writes.
type Store interface {
	CreateUser(ctx context.Context, username, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
	CreateAuction(ctx context.Context, carID string, start, end time.Time, startingBid int64) (*domain.Auction, error)
	GetAuction(ctx context.Context, id int64) (*domain.Auction, error)
	ListAuctions(ctx context.Context) ([]*domain.Auction, error)
	BidsByAuction(ctx context.Context, auctionID int64) ([]*domain.Bid, error)
	BidsByUser(ctx context.Context, userID int64) ([]*domain.Bid, error)
}

// Engine serializes bid placement.
type Engine interface {
	PlaceBid(ctx context.Context, auctionID, userID, amount int64) (*domain.Bid, error)
}

// Handler contains the HTTP request handlers.
type Handler struct {
	store  Store
	engine Engine
}

func NewHandler(store Store, engine Engine) *Handler {
	return &Handler{store: store, engine: engine}
}

// Register mounts the REST routes under /api/v1.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/healthz", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users", h.CreateUser).Methods("POST")
	api.HandleFunc("/users", h.ListUsers).Methods("GET")
	api.HandleFunc("/auctions", h.CreateAuction).Methods("POST")
	api.HandleFunc("/auctions", h.ListAuctions).Methods("GET")
	api.HandleFunc("/auctions/{id:[0-9]+}", h.GetAuction).Methods("GET")
	api.HandleFunc("/bids", h.PlaceBid).Methods("POST")
	api.HandleFunc("/bids/auction/{id:[0-9]+}", h.BidsByAuction).Methods("GET")
	api.HandleFunc("/bids/user/{id:[0-9]+}", h.BidsByUser).Methods("GET")
}

// HealthCheck returns service health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" {
		respondError(w, http.StatusBadRequest, "username and email are required")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, req.Email)
	if err != nil {
		log.Error().Err(err).Msg("create user")
		respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list users")
		respondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	respondJSON(w, http.StatusOK, users)
}

type createAuctionRequest struct {
	CarID       string    `json:"carId"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	StartingBid int64     `json:"startingBid"`
}

func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CarID == "" {
		respondError(w, http.StatusBadRequest, "carId is required")
		return
	}
	if req.StartingBid <= 0 {
		respondError(w, http.StatusBadRequest, "startingBid must be positive")
		return
	}
	if !req.EndTime.After(req.StartTime) {
		respondError(w, http.StatusBadRequest, "endTime must be after startTime")
		return
	}

	auction, err := h.store.CreateAuction(r.Context(), req.CarID, req.StartTime, req.EndTime, req.StartingBid)
	if err != nil {
		log.Error().Err(err).Msg("create auction")
		respondError(w, http.StatusInternalServerError, "failed to create auction")
		return
	}
	respondJSON(w, http.StatusCreated, auction)
}

func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.store.ListAuctions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list auctions")
		respondError(w, http.StatusInternalServerError, "failed to list auctions")
		return
	}
	respondJSON(w, http.StatusOK, auctions)
}

func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	auction, err := h.store.GetAuction(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("auction_id", id).Msg("get auction")
		respondError(w, http.StatusInternalServerError, "failed to retrieve auction")
		return
	}
	if auction == nil {
		respondError(w, http.StatusNotFound, "auction not found")
		return
	}
	respondJSON(w, http.StatusOK, auction)
}

type placeBidRequest struct {
	AuctionID int64 `json:"auctionId"`
	UserID    int64 `json:"userId"`
	Amount    int64 `json:"amount"`
}

func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AuctionID <= 0 || req.UserID <= 0 {
		respondError(w, http.StatusBadRequest, "auctionId and userId are required")
		return
	}
	if req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "bid amount must be positive")
		return
	}

	bid, err := h.engine.PlaceBid(r.Context(), req.AuctionID, req.UserID, req.Amount)
	if err != nil {
		switch {
		case err == domain.ErrNotFound:
			respondError(w, http.StatusNotFound, err.Error())
		case domain.IsRejection(err):
			respondError(w, http.StatusConflict, err.Error())
		default:
			log.Error().Err(err).Int64("auction_id", req.AuctionID).Msg("place bid")
			respondError(w, http.StatusInternalServerError, "failed to place bid")
		}
		return
	}
	respondJSON(w, http.StatusCreated, bid)
}

func (h *Handler) BidsByAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	bids, err := h.store.BidsByAuction(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("auction_id", id).Msg("list auction bids")
		respondError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}
	respondJSON(w, http.StatusOK, bids)
}

func (h *Handler) BidsByUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	bids, err := h.store.BidsByUser(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("user_id", id).Msg("list user bids")
		respondError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}
	respondJSON(w, http.StatusOK, bids)
}
