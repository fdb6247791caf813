package ports

import (
	"context"

	"github.com/microshop/user-service/internal/core/domain"
)

// EventPublisher sends lifecycle events to the user events topic.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.UserEvent) error
}
