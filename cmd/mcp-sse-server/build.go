package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ggoodman/mcp-sse-server/catalog"
	"github.com/ggoodman/mcp-sse-server/config"
	"github.com/ggoodman/mcp-sse-server/internal/contentapi"
	"github.com/ggoodman/mcp-sse-server/internal/logctx"
	"github.com/ggoodman/mcp-sse-server/internal/wellknown"
	"github.com/ggoodman/mcp-sse-server/permission"
	"github.com/ggoodman/mcp-sse-server/registry"
	"github.com/ggoodman/mcp-sse-server/restroute"
	"github.com/lmittmann/tint"
)

// app holds everything shared by the subcommands.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	level *slog.LevelVar

	posts  *contentapi.Store
	mux    *restroute.Mux
	reg    *registry.Registry
	authn  permission.Authenticator
	prm    *wellknown.ProtectedResourceMetadata
	prmURL string
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, *slog.LevelVar, error) {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)

	var h slog.Handler
	switch cfg.LogFormat {
	case config.LogFormatText:
		h = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: "[15:04:05.000]"})
	default:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return logctx.NewLogger(h), level, nil
}

// buildApp wires the content API, the registry and the optional
// authenticator from cfg.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger, level *slog.LevelVar) (*app, error) {
	a := &app{
		cfg:   cfg,
		log:   log,
		level: level,
		posts: contentapi.New(),
		mux:   restroute.NewMux(),
		reg:   registry.New(),
	}
	a.posts.Register(a.mux)

	if cfg.Auth.Enabled() {
		var opts []permission.JWTOption
		if cfg.Auth.JWKSURL != "" {
			opts = append(opts, permission.WithJWKSURL(cfg.Auth.JWKSURL))
		}
		authn, err := permission.NewJWTAuthenticator(ctx, cfg.Auth.Issuer, cfg.Auth.Audiences, opts...)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		a.authn = authn

		resource := cfg.AuthResourceURL()
		a.prmURL, err = wellknown.MetadataURL(resource)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		var scopes []string
		for _, s := range []string{cfg.Auth.ReadScope, cfg.Auth.WriteScope} {
			if s != "" {
				scopes = append(scopes, s)
			}
		}
		a.prm = &wellknown.ProtectedResourceMetadata{
			Resource:               resource,
			AuthorizationServers:   []string{cfg.Auth.Issuer},
			JwksURI:                cfg.Auth.JWKSURL,
			ScopesSupported:        scopes,
			BearerMethodsSupported: []string{"header"},
			ResourceName:           cfg.ServerName,
		}
	}

	site := catalog.SiteInfo{
		Name:        cfg.Site.Name,
		URL:         cfg.Site.URL,
		Description: cfg.Site.Description,
		AdminEmail:  cfg.Site.AdminEmail,
		Version:     cfg.Site.Version,
	}
	catOpts := []catalog.Option{catalog.WithPosts(a.posts)}
	var scopes catalog.ScopeFunc
	if a.authn != nil {
		scopes = func(scope string) registry.PermissionFunc { return permission.RequireScopes(scope) }
		if cfg.Auth.ReadScope != "" {
			catOpts = append(catOpts, catalog.WithReadPermission(scopes(cfg.Auth.ReadScope)))
		}
		if cfg.Auth.WriteScope != "" {
			catOpts = append(catOpts, catalog.WithWritePermission(scopes(cfg.Auth.WriteScope)))
		}
	}
	if err := catalog.RegisterDefaults(a.reg, site, catOpts...); err != nil {
		return nil, fmt.Errorf("register defaults: %w", err)
	}

	if cfg.ToolManifest != "" {
		m, err := catalog.LoadManifestFile(cfg.ToolManifest)
		if err != nil {
			return nil, err
		}
		if err := m.Register(a.reg, scopes); err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "catalog.manifest.loaded", slog.String("path", cfg.ToolManifest), slog.Int("tools", len(m.Tools)))
	}

	if cfg.GenerateRouteTools {
		opts := restroute.GenerateOptions{Namespaces: cfg.RouteNamespaces, Logger: log}
		if a.authn != nil {
			opts.Permission = permission.Authenticated()
		}
		n, err := restroute.GenerateTools(a.mux, a.reg, opts)
		if err != nil {
			return nil, fmt.Errorf("generate route tools: %w", err)
		}
		log.InfoContext(ctx, "restroute.generate.done", slog.Int("tools", n))
	}
	return a, nil
}
