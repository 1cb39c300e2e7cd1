package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ggoodman/mcp-sse-server/config"
	"github.com/ggoodman/mcp-sse-server/dispatch"
	"github.com/ggoodman/mcp-sse-server/internal/wellknown"
	"github.com/ggoodman/mcp-sse-server/invoke"
	"github.com/ggoodman/mcp-sse-server/mcp"
	"github.com/ggoodman/mcp-sse-server/permission"
	"github.com/ggoodman/mcp-sse-server/proxyhttp"
	"github.com/ggoodman/mcp-sse-server/sessionstore"
	"github.com/ggoodman/mcp-sse-server/sessionstore/memorystore"
	"github.com/ggoodman/mcp-sse-server/sessionstore/redisstore"
	"github.com/ggoodman/mcp-sse-server/ssehttp"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type storeCloser interface {
	sessionstore.Store
	Close() error
}

func newServeCmd() *cobra.Command {
	var (
		addr       string
		logFormat  string
		store      string
		manifest   string
		inactivity time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(func(c *config.Config) {
				flagString(cmd, "addr", &c.ListenAddr, addr)
				flagString(cmd, "log-format", &c.LogFormat, logFormat)
				flagString(cmd, "store", &c.SessionStore, store)
				flagString(cmd, "manifest", &c.ToolManifest, manifest)
				if cmd.Flags().Changed("inactivity-timeout") {
					c.InactivityTimeout = inactivity
				}
			})
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (MCP_LISTEN_ADDR)")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "json or text (MCP_LOG_FORMAT)")
	cmd.Flags().StringVar(&store, "store", "", "memory or redis (MCP_SESSION_STORE)")
	cmd.Flags().StringVar(&manifest, "manifest", "", "YAML tool manifest path (MCP_TOOL_MANIFEST)")
	cmd.Flags().DurationVar(&inactivity, "inactivity-timeout", 0, "close idle SSE streams after this long (MCP_INACTIVITY_TIMEOUT)")
	return cmd
}

// loadConfig decodes the environment, applies flag overrides and
// validates the result.
func loadConfig(override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func flagString(cmd *cobra.Command, name string, dst *string, v string) {
	if cmd.Flags().Changed(name) {
		*dst = v
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storeCloser, error) {
	switch cfg.SessionStore {
	case config.StoreRedis:
		return redisstore.New(ctx, cfg.Redis)
	default:
		return memorystore.New(), nil
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, level, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, log, level)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()

	sse, proxy, err := a.transports(store)
	if err != nil {
		return err
	}
	r := newRouter(a, sse, proxy)

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
		// Cancelling gctx ends open SSE streams so Shutdown can drain.
		BaseContext:       func(net.Listener) context.Context { return gctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.InfoContext(gctx, "server.listen", slog.String("addr", cfg.ListenAddr), slog.String("store", cfg.SessionStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server.shutdown")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// transports builds the SSE and proxy handlers over one engine.
func (a *app) transports(store sessionstore.Store) (*ssehttp.Handler, *proxyhttp.Handler, error) {
	cfg := a.cfg
	info := mcp.ImplementationInfo{Name: cfg.ServerName, Version: cfg.ServerVersion}
	engine := invoke.New(a.reg, invoke.WithRouter(a.mux), invoke.WithLogger(a.log))
	disp := dispatch.New(a.reg, engine, dispatch.WithLogger(a.log), dispatch.WithServerInfo(info))

	sse, err := ssehttp.New(store, disp,
		ssehttp.WithLogger(a.log),
		ssehttp.WithAbsoluteTimeout(cfg.EffectiveAbsoluteTimeout()),
		ssehttp.WithInactivityTimeout(cfg.InactivityTimeout),
		ssehttp.WithCheckInterval(cfg.CheckInterval),
	)
	if err != nil {
		return nil, nil, err
	}
	opts := []proxyhttp.Option{proxyhttp.WithLogger(a.log), proxyhttp.WithServerInfo(info)}
	if a.level != nil {
		opts = append(opts, proxyhttp.WithLevelVar(a.level))
	}
	return sse, proxyhttp.New(a.reg, engine, opts...), nil
}

// newRouter mounts the transports and the content API. Nil transports are
// left out.
func newRouter(a *app, sse, proxy http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	if a.prm != nil {
		prm := wellknown.Handler(*a.prm)
		r.Handle(wellknown.ProtectedResourcePath, prm)
		r.Handle(wellknown.ProtectedResourcePath+"/*", prm)
	}
	r.Group(func(r chi.Router) {
		if a.authn != nil {
			mwOpts := []permission.MiddlewareOption{
				permission.WithMiddlewareLogger(a.log),
				permission.WithResourceMetadata(a.prmURL),
			}
			if a.cfg.Auth.Required {
				mwOpts = append(mwOpts, permission.Required())
			}
			r.Use(permission.Middleware(a.authn, mwOpts...))
		}
		if sse != nil {
			r.Handle("/sse", sse)
		}
		if proxy != nil {
			r.Handle("/proxy", proxy)
		}
		r.Mount("/wp-json", a.mux)
	})
	return r
}
