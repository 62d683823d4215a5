package www

import (
	"log/slog"
	"net/http"

	"harvester/engine"
	"harvester/engine/config"
	"harvester/www/api"
	"harvester/www/middleware"
)

type Router struct {
	Config *config.Manager
	Engine *engine.SubmissionEngine
}

// Start wires the control-plane routes and blocks serving them.
func (router *Router) Start() {
	api.SetConfig(router.Config)
	api.SetEngine(router.Engine)

	public := middleware.MiddlewareChain(middleware.Logging, middleware.Cors)
	protected := middleware.MiddlewareChain(middleware.Logging, middleware.Cors, middleware.Authentication)

	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/auth/login", public(api.Login))
	mux.Handle("POST /api/v1/auth/verify", public(api.Verify))

	mux.Handle("GET /api/v1/config", protected(api.GetConfig))
	mux.Handle("POST /api/v1/config", protected(api.PostConfig))
	mux.Handle("POST /api/v1/submit-flags", protected(api.SubmitFlags))
	mux.Handle("POST /api/v1/submit-flag", protected(api.SubmitFlag))
	mux.Handle("GET /api/v1/flags", protected(api.GetFlags))
	mux.Handle("GET /api/v1/stats", protected(api.GetStats))
	mux.Handle("POST /api/v1/engine/pause", protected(api.PauseEngine))
	mux.Handle("POST /api/v1/engine/reset", protected(api.ResetFlags))

	bind := router.Config.Get().RequiredSettings.BindAddress
	slog.Info("starting control-plane server", "address", bind)
	if err := http.ListenAndServe(bind, mux); err != nil {
		slog.Error("control-plane server stopped", "error", err)
	}
}
