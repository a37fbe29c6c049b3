// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// WAFFLE's CoreConfig handles framework-level settings (HTTP/HTTPS ports,
// TLS, logging, CORS); AppConfig is everything specific to DealDesk. The
// struct is passed to most lifecycle hooks, so any configuration needed
// during startup, request handling, or shutdown lives here.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64 // Max connection pool size
	MongoMinPoolSize uint64 // Min connection pool size

	// Session management configuration
	SessionKey    string        // Secret key for signing session cookies (must be strong in production)
	SessionName   string        // Cookie name for sessions (default: dealdesk-session)
	SessionDomain string        // Cookie domain (blank means current host)
	SessionMaxAge time.Duration // Cookie lifetime

	// One-time auth token (magic link, OAuth handoff, recovery) expiry
	TokenExpiry time.Duration

	// Google OAuth configuration (empty client ID disables the flow)
	GoogleClientID     string
	GoogleClientSecret string

	// BaseURL is where this API is reachable (OAuth callbacks).
	// FrontendURL is where the SPA lives (magic-link and OAuth redirects).
	BaseURL     string
	FrontendURL string
}
