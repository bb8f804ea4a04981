package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ledgerworks/approvald/internal/approval"
	"github.com/ledgerworks/approvald/internal/config"
)

type Server struct {
	cfg    config.Config
	logger *zap.Logger
	engine *approval.Engine
	srv    *http.Server
}

func Module() fx.Option {
	return fx.Options(
		fx.Provide(NewServer),
		fx.Invoke(RegisterHooks),
	)
}

func NewServer(cfg config.Config, logger *zap.Logger, engine *approval.Engine) *Server {
	s := &Server{cfg: cfg, logger: logger, engine: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("POST /v1/definitions", s.createDefinition)
	mux.HandleFunc("GET /v1/definitions", s.listDefinitions)
	mux.HandleFunc("GET /v1/definitions/{id}", s.getDefinition)
	mux.HandleFunc("POST /v1/instances", s.createInstance)
	mux.HandleFunc("GET /v1/instances/{id}", s.getInstance)
	mux.HandleFunc("GET /v1/instances/{id}/current-node", s.getCurrentNode)
	mux.HandleFunc("POST /v1/instances/{id}/approve", s.approve)
	mux.HandleFunc("POST /v1/instances/{id}/reject", s.reject)
	mux.HandleFunc("POST /v1/instances/{id}/cancel", s.cancel)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "approvald"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func RegisterHooks(lc fx.Lifecycle, server *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			server.logger.Info("http server starting", zap.String("addr", server.srv.Addr))
			go func() {
				if err := server.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					server.logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			server.logger.Info("http server stopping")
			return server.srv.Shutdown(shutdownCtx)
		},
	})
}
