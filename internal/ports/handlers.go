package ports

import (
	"context"

	"github.com/betbot/ladderbot/internal/domain"
)

// OrderUpdateHandler handles order status updates (serial delivery, arrival order).
//
// NOTE: This interface is intentionally defined in a "neutral" package to avoid
// circular dependencies between services, ladder sessions, and the broker adapter.
type OrderUpdateHandler interface {
	OnOrderUpdate(ctx context.Context, order *domain.Order) error
}

// GatewayMessage is a broker error/cancel notification keyed by order id.
type GatewayMessage struct {
	OrderID int64
	Code    int
	Text    string
}

// GatewayMessageHandler handles broker gateway messages. Registered once on the
// connection via OnGatewayMessage — an explicit observer, never a rebound method.
type GatewayMessageHandler interface {
	OnGatewayMessage(ctx context.Context, msg *GatewayMessage) error
}
