package trades

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tradevault/journal-api/internal/types"
	"github.com/tradevault/journal-api/pkg/response"
)

// Service exposes the read side of reconstructed trades.
type Service struct {
	db *Database
}

// NewService creates a new trades service with the given database connection.
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// GetTrade retrieves a single trade with its order attributions.
func (s *Service) GetTrade(tradeID string) (*types.Trade, error) {
	return s.db.GetTrade(tradeID)
}

// GetUserTrades retrieves a user's trades, optionally filtered by status.
func (s *Service) GetUserTrades(userID, status string) ([]types.Trade, error) {
	return s.db.GetUserTrades(userID, status)
}

// GetUserTradesBySymbol retrieves a user's trades for one account and symbol.
func (s *Service) GetUserTradesBySymbol(userID, accountID, symbol string) ([]types.Trade, error) {
	return s.db.GetUserTradesBySymbol(userID, accountID, symbol)
}

// GinHandlers contains HTTP handlers for trade endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListTradesHandler handles GET requests for a user's trades.
// Query parameters: user_id (required), status (optional OPEN/CLOSED),
// account_id + symbol (optional pair scoping the listing to one group).
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			response.BadRequest(c, "user_id is required")
			return
		}

		accountID, symbol := c.Query("account_id"), c.Query("symbol")
		if (accountID == "") != (symbol == "") {
			response.BadRequest(c, "account_id and symbol must be provided together")
			return
		}
		if symbol != "" {
			trades, err := h.service.GetUserTradesBySymbol(userID, accountID, symbol)
			response.Handle(c, trades, err)
			return
		}

		status := c.Query("status")
		if status != "" && status != types.StatusOpen && status != types.StatusClosed {
			response.BadRequest(c, "status must be OPEN or CLOSED")
			return
		}

		trades, err := h.service.GetUserTrades(userID, status)
		response.Handle(c, trades, err)
	}
}

// GetTradeHandler handles GET requests for a single trade.
// URL parameter: trade_id.
func (h *GinHandlers) GetTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trade, err := h.service.GetTrade(c.Param("trade_id"))
		if err == nil && trade == nil {
			response.NotFound(c, "Trade not found")
			return
		}
		response.Handle(c, trade, err)
	}
}
