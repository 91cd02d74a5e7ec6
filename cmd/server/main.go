package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"travel-auth/internal/factory"
	"travel-auth/internal/handler"
	"travel-auth/internal/util"
)

func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := setupRouter(f)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		startServer(server, false)
		waitForShutdown(server)
		return
	}

	tlsManager := f.TLSManager()
	server.Addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort)
	server.TLSConfig = tlsManager.TLSConfig()

	// ACME http-01 challenges and the HTTPS redirect share the plain port.
	var redirect *http.Server
	if acm := tlsManager.AutoCert(); acm != nil {
		redirect = &http.Server{
			Addr:              cfg.GetServerAddress(),
			Handler:           acm.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		startServer(redirect, false)
	}

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
		util.Bool("auto_cert", cfg.Server.AutoCert),
	)
	startServer(server, true)
	waitForShutdown(server, redirect)
}

func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	services := f.ServiceFactory()

	auth := services.AuthService()
	return handler.NewRouter(handler.RouterConfig{
		Auth:          handler.NewAuthHandler(auth, services.Sessions()),
		OAuth:         handler.NewOAuthHandler(cfg, auth, services.Binder(), services.Sessions()),
		Health:        handler.NewHealthHandler(f, f.Backends()...),
		Limiter:       handler.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		Logger:        util.Get(),
		AllowedOrigin: cfg.Server.AllowOrigins,
		RequireHTTPS:  cfg.IsProduction() && !cfg.Server.EnableTLS,
	})
}

func startServer(server *http.Server, withTLS bool) {
	go func() {
		var err error
		if withTLS {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed", util.String("address", server.Addr), util.ErrorField(err))
		}
	}()
	util.Info("Server started", util.String("address", server.Addr), util.Bool("tls", withTLS))
}

func waitForShutdown(servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.String("address", srv.Addr), util.ErrorField(err))
		}
	}
	util.Info("Server shutdown completed")
}
