package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-runner/internal/i18n"
)

// Localize attaches a localizer built from Accept-Language to the request
// context so response messages come back in the caller's language.
func Localize() gin.HandlerFunc {
	return func(c *gin.Context) {
		loc := i18n.NewLocalizer(c.GetHeader("Accept-Language"))
		c.Request = c.Request.WithContext(i18n.WithLocalizer(c.Request.Context(), loc))
		c.Header("Vary", "Accept-Language")
		c.Next()
	}
}
