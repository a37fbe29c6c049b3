// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	authapifeature "github.com/dealdesk/dealdesk/internal/app/features/authapi"
	dealsfeature "github.com/dealdesk/dealdesk/internal/app/features/deals"
	dealscsvfeature "github.com/dealdesk/dealdesk/internal/app/features/dealscsv"
	healthfeature "github.com/dealdesk/dealdesk/internal/app/features/health"
	orgsetupfeature "github.com/dealdesk/dealdesk/internal/app/features/orgsetup"
	"github.com/dealdesk/dealdesk/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. DealDesk is a JSON API: every feature
// router is mounted under /api except the health endpoint.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	r := chi.NewRouter()

	// Global auth middleware: loads SessionUser into context if logged in.
	// This makes the current user available to all handlers via auth.CurrentUser(r).
	r.Use(sessionMgr.LoadSessionUser)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Authentication: login/signup, one-time token exchange, session check,
	// magic links, recovery, Google OAuth.
	authHandler := authapifeature.NewHandler(
		deps.MongoDatabase,
		sessionMgr,
		appCfg.TokenExpiry,
		appCfg.GoogleClientID,
		appCfg.GoogleClientSecret,
		appCfg.BaseURL,
		appCfg.FrontendURL,
		logger,
	)
	r.Mount("/api/auth", authapifeature.Routes(authHandler))

	// Organization membership lookup and idempotent setup.
	orgHandler := orgsetupfeature.NewHandler(deps.MongoDatabase, logger)
	r.Mount("/api/org", orgsetupfeature.Routes(orgHandler))

	// Deal CRUD plus CSV import/export under the same prefix.
	dealsHandler := dealsfeature.NewHandler(deps.MongoDatabase, logger)
	csvHandler := dealscsvfeature.NewHandler(deps.MongoDatabase, logger)
	r.Mount("/api/deals", dealsfeature.Routes(dealsHandler, csvHandler))

	return r, nil
}
