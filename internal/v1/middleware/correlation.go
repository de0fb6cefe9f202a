// Package middleware holds the gin middleware shared across routes.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
)

// HeaderXCorrelationID carries the request correlation ID. A frontend that
// supplies its own can follow a room's traffic across services.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID guarantees every request has a correlation ID, minting one
// when the header is absent. The ID is echoed in the response and stored in
// the gin context under the key the logger reads.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(string(logging.CorrelationIDKey), correlationID)

		c.Next()
	}
}
