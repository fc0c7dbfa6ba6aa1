package orders

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradevault/journal-api/internal/types"
	"github.com/tradevault/journal-api/pkg/response"
)

var (
	// ErrMissingUser indicates an intake payload without a user id.
	ErrMissingUser = errors.New("order must carry a user id")
	// ErrMissingAccount indicates an intake payload without an account id.
	ErrMissingAccount = errors.New("order must carry an account id")
	// ErrMissingSymbol indicates an intake payload without a symbol.
	ErrMissingSymbol = errors.New("order must carry a symbol")
	// ErrInvalidSide indicates a side other than BUY or SELL.
	ErrInvalidSide = errors.New("order side must be BUY or SELL")
)

// Service handles intake and lookup of normalized broker executions. It is
// the order repository the rebuild controller reads from: broker-specific
// parsing happens upstream, this service only accepts already-normalized
// records.
type Service struct {
	db *Database
}

// NewService creates a new orders service with the given database connection.
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// IngestOrder records a normalized execution with idempotency support. A
// retried submission under the same key returns the previously created
// order instead of ingesting a duplicate.
func (s *Service) IngestOrder(order *types.Order, idempotencyKey string) error {
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err != nil {
		return err
	}

	if record != nil && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetOrder(record.OrderID)
		if err != nil {
			return err
		}
		if existing == nil {
			return errors.New("order for idempotency record not found")
		}
		*order = *existing
		return nil
	}

	if err := validateIntake(order); err != nil {
		return err
	}

	order.OrderID = "ORD_" + uuid.New().String()
	order.UsedInTrade = false
	order.TradeID = nil
	if order.AssetClass == "" {
		order.AssetClass = types.AssetEquity
	}

	return s.db.CreateOrderWithIdempotency(order, idempotencyKey)
}

// GetOrder retrieves an order by its ID.
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.db.GetOrder(orderID)
}

// GetUnconsumedOrders returns the user's orders not yet assigned to a trade.
func (s *Service) GetUnconsumedOrders(userID string) ([]types.Order, error) {
	return s.db.GetUnconsumedOrders(userID)
}

// GetAllOrders returns every order of the user.
func (s *Service) GetAllOrders(userID string) ([]types.Order, error) {
	return s.db.GetAllOrders(userID)
}

// GetPendingUserIDs returns users that have unconsumed orders.
func (s *Service) GetPendingUserIDs() ([]string, error) {
	return s.db.GetPendingUserIDs()
}

// validateIntake rejects payloads the pipeline could never attribute. A
// missing timestamp or non-positive quantity is deliberately NOT rejected
// here: such orders are recorded and surfaced as skipped-order diagnostics
// at rebuild time, so the intake side never loses broker data.
func validateIntake(order *types.Order) error {
	switch {
	case order.UserID == "":
		return ErrMissingUser
	case order.AccountID == "":
		return ErrMissingAccount
	case order.Symbol == "":
		return ErrMissingSymbol
	case order.Side != types.SideBuy && order.Side != types.SideSell:
		return ErrInvalidSide
	}
	return nil
}

// GinHandlers contains HTTP handlers for order intake endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to record normalized executions.
// Requires an idempotency key in headers.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var order types.Order
		if err := c.ShouldBindJSON(&order); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.IngestOrder(&order, idempotencyKey); err != nil {
			switch {
			case errors.Is(err, ErrMissingUser),
				errors.Is(err, ErrMissingAccount),
				errors.Is(err, ErrMissingSymbol),
				errors.Is(err, ErrInvalidSide):
				response.BadRequest(c, err.Error())
			default:
				response.InternalError(c, err.Error())
			}
			return
		}

		response.Success(c, order)
	}
}

// GetOrderHandler handles GET requests for a single order.
// URL parameter: order_id.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("order_id"))
		if err == nil && order == nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Handle(c, order, err)
	}
}
