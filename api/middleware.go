package api

import (
	"strconv"
	"time"

	"offgridpay/metric"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// newCORS allows the browser requests of allowedOrigins, or of any origin
// when it is empty.  The signature header is allowed on every request.
func newCORS(allowedOrigins []string) (gin.HandlerFunc, error) {
	cfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	cfg.AddAllowHeaders(signatureHeader, requestIDHeader)
	cfg.AddExposeHeaders(requestIDHeader)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cors.New(cfg), nil
}

// requestID tags every request with an id, kept from the client when it
// sends one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(requestIDHeader, id)
		c.Set(requestIDHeader, id)
		c.Next()
	}
}

// measureRequests observes the duration of every request by route
func measureRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		metric.MeasureDuration(metric.Requests, start, c.Request.Method, route,
			strconv.Itoa(c.Writer.Status()))
	}
}
