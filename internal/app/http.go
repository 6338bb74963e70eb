package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"chatrelay/pkg/journal"
	"chatrelay/pkg/middleware"
)

// buildRouter mounts the gateway surface: the proxy prefix plus the ops
// endpoints.
func (a *App) buildRouter() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthzHandler)
	r.HandleFunc("/readyz", a.readyzHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	a.gw.Register(r)

	var h http.Handler = r
	h = middleware.RateLimit(middleware.RateLimitConfig{
		RPS:   a.eff.Config.Security.RateLimit.RPS,
		Burst: a.eff.Config.Security.RateLimit.Burst,
	})(h)
	h = middleware.Logging(h)
	return h
}

// healthzHandler reports process liveness.
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
}

// readyzHandler reports readiness: the journal must be open when enabled.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.eff.Config.Journal.Enabled && !journal.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("{\"status\":\"journal not ready\"}"))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{\"status\":\"ok\",\"version\":\"" + ver + "\"}"))
}

// startHTTP starts the HTTP server in a goroutine and returns a channel
// carrying any fatal server error.
func (a *App) startHTTP(ctx context.Context) <-chan error {
	a.srv = &http.Server{
		Addr:              a.eff.Addr,
		Handler:           a.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(shCtx)
	}()

	return errCh
}
