package server

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/deeprecall/deeprecall/internal/server/auth"
	"github.com/deeprecall/deeprecall/internal/server/batch"
	"github.com/deeprecall/deeprecall/internal/server/device"
)

type Services struct {
	Engine   *batch.Engine
	Registry *device.Registry
	Auth     *auth.AuthService
}

func NewServices(config *Config, db *sqlx.DB) (*Services, error) {
	// the engine owns the schema; the registry reads the tables it creates
	engine, err := batch.NewEngine(db)
	if err != nil {
		return nil, fmt.Errorf("create batch engine: %w", err)
	}

	return &Services{
		Engine:   engine,
		Registry: device.NewRegistry(db),
		Auth:     auth.NewAuthService(&config.Auth),
	}, nil
}
