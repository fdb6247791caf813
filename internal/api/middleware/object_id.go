package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/microshop/user-service/internal/core/domain"
)

// ObjectIDParam rejects requests whose path parameter name is not a 24-character
// hex ObjectID, before the handler or any store call runs.
func ObjectIDParam(name string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id := c.Param(name); !primitive.IsValidObjectID(id) {
				return fmt.Errorf("%w: %q", domain.ErrInvalidID, id)
			}
			return next(c)
		}
	}
}
