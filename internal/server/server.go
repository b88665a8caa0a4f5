package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/deeprecall/deeprecall/internal/db"
)

type Server struct {
	config   *Config
	server   *http.Server
	db       *sqlx.DB
	services *Services
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sdb, err := db.NewSqliteDB(db.WithPath(config.DBPath), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open server db: %w", err)
	}

	services, err := NewServices(config, sdb)
	if err != nil {
		sdb.Close()
		return nil, err
	}

	return &Server{
		config:   config,
		db:       sdb,
		services: services,
		server: &http.Server{
			Addr:    config.HTTP.Addr,
			Handler: SetupRoutes(config, services),
		},
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("deeprecall server start", "addr", s.config.HTTP.Addr)
	defer slog.Info("deeprecall server stop")

	errCh := make(chan error, 1)
	go func() {
		if err := s.runHTTPServer(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("deeprecall shutdown signal")
	return s.Stop(ctx)
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.db.Close()
}

func (s *Server) runHTTPServer() error {
	if s.config.HTTP.CertFile != "" && s.config.HTTP.KeyFile != "" {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
