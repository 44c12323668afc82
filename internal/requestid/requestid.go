// Package requestid tags every gin request with an identifier that is echoed
// in the X-Request-ID response header and carried into log lines.
package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the request identifier in both directions.
const Header = "X-Request-ID"

// maxLen caps client-supplied identifiers before they reach logs.
const maxLen = 128

// Middleware echoes the client's X-Request-ID or assigns a new UUID.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" || len(id) > maxLen {
			id = uuid.NewString()
		}
		c.Set(Header, id)
		c.Header(Header, id)
		c.Next()
	}
}

// Get returns the identifier Middleware assigned to c, or "" if it did not run.
func Get(c *gin.Context) string {
	return c.GetString(Header)
}
