package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HeaderUserID carries the caller's identity. It is trusted as-is.
const HeaderUserID = "X-User-ID"

type AuctionHandler struct {
	auctionManager *services.AuctionManager
	bidService     *services.BidService
	submitTimeout  time.Duration
	log            logger.Logger
}

type CreateAuctionRequest struct {
	StartingPrice float64   `json:"starting_price"`
	ReservePrice  *float64  `json:"reserve_price,omitempty"`
	BidIncrement  *float64  `json:"bid_increment,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

type PlaceBidRequest struct {
	Amount float64 `json:"amount"`
}

type AuctionResponse struct {
	*domain.Auction
	Bids []*domain.Bid `json:"bids,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Minimum string `json:"minimum,omitempty"`
}

func NewAuctionHandler(auctionManager *services.AuctionManager, bidService *services.BidService,
	submitTimeout time.Duration, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctionManager: auctionManager,
		bidService:     bidService,
		submitTimeout:  submitTimeout,
		log:            log,
	}
}

func (h *AuctionHandler) Register(g *echo.Group) {
	g.POST("/auctions", h.CreateAuction)
	g.GET("/auctions/:id", h.GetAuction)
	g.POST("/auctions/:id/activate", h.ActivateAuction)
	g.POST("/auctions/:id/cancel", h.CancelAuction)
	g.POST("/auctions/:id/bids", h.PlaceBid)
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	sellerID := c.Request().Header.Get(HeaderUserID)
	if sellerID == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing " + HeaderUserID})
	}

	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	auction, err := h.auctionManager.CreateAuction(c.Request().Context(), services.CreateAuctionRequest{
		SellerID:      sellerID,
		StartingPrice: req.StartingPrice,
		ReservePrice:  req.ReservePrice,
		BidIncrement:  req.BidIncrement,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusCreated, AuctionResponse{Auction: auction})
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	snap, err := h.auctionManager.GetAuction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, AuctionResponse{Auction: snap.Auction, Bids: snap.Bids})
}

func (h *AuctionHandler) ActivateAuction(c echo.Context) error {
	return h.sellerTransition(c, h.auctionManager.ActivateAuction)
}

func (h *AuctionHandler) CancelAuction(c echo.Context) error {
	return h.sellerTransition(c, h.auctionManager.CancelAuction)
}

func (h *AuctionHandler) sellerTransition(c echo.Context, apply func(context.Context, string) (*domain.Auction, error)) error {
	ctx := c.Request().Context()
	auctionID := c.Param("id")

	snap, err := h.auctionManager.GetAuction(ctx, auctionID)
	if err != nil {
		return h.fail(c, err)
	}
	if snap.Auction.SellerID != c.Request().Header.Get(HeaderUserID) {
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the seller may change this auction"})
	}

	auction, err := apply(ctx, auctionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, AuctionResponse{Auction: auction})
}

func (h *AuctionHandler) PlaceBid(c echo.Context) error {
	bidderID := c.Request().Header.Get(HeaderUserID)
	if bidderID == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing " + HeaderUserID})
	}

	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	ctx := c.Request().Context()
	if h.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.submitTimeout)
		defer cancel()
	}

	bid, err := h.bidService.SubmitBid(ctx, services.SubmitBidRequest{
		AuctionID: c.Param("id"),
		BidderID:  bidderID,
		Amount:    req.Amount,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, bid)
}

// fail maps engine errors onto HTTP statuses.
func (h *AuctionHandler) fail(c echo.Context, err error) error {
	var rejected *domain.BidRejectedError
	switch {
	case errors.As(err, &rejected):
		resp := ErrorResponse{Error: "bid rejected", Reason: string(rejected.Reason)}
		if rejected.Reason == domain.RejectBelowMinimum {
			resp.Minimum = rejected.Minimum.StringFixed(2)
		}
		return c.JSON(http.StatusUnprocessableEntity, resp)
	case errors.Is(err, domain.ErrAuctionNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "auction not found"})
	case errors.Is(err, domain.ErrInvalidAuction):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrStaleStatus), errors.Is(err, domain.ErrTransitionNotAllowed):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrConflict):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "too many concurrent bids, retry"})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out"})
	}

	h.log.Error("Request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// Health reports liveness together with the store driver in use.
func Health(service, driver string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   service,
			"store":     driver,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
