// security.go sets protective response headers. The dashboard serves JSON and CSV only, so the
// policy denies framing, sniffing and embedding outright, and report responses are never cached.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sales-dashboard/sales-dashboard/internal/config"
)

// SecurityHeadersConfig holds configuration for security headers
type SecurityHeadersConfig struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds; 0 disables HSTS
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	ContentSecurityPolicy string
	ReferrerPolicy        string
	// NoStore sends Cache-Control: no-store so report data is not kept by proxies or browsers
	NoStore bool
}

// SecurityHeadersFromConfig builds the header policy; HSTS is only sent when the server
// terminates TLS itself.
func SecurityHeadersFromConfig(cfg *config.Config) SecurityHeadersConfig {
	h := SecurityHeadersConfig{
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		NoStore:               true,
	}
	if cfg != nil && cfg.Security.TLS.Enabled {
		h.HSTSMaxAge = 31536000
		h.HSTSIncludeSubdomains = true
	}
	return h
}

// SecurityHeadersMiddleware adds security headers to all responses
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.HSTSMaxAge > 0 {
			hsts := "max-age=" + strconv.Itoa(config.HSTSMaxAge)
			if config.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			c.Header("Strict-Transport-Security", hsts)
		}
		if config.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", config.ContentSecurityPolicy)
		}
		if config.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}
		if config.NoStore {
			c.Header("Cache-Control", "no-store")
		}

		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")

		c.Next()
	}
}
