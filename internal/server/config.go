package server

import (
	"fmt"

	"github.com/deeprecall/deeprecall/internal/server/auth"
)

const DefaultAddr = "127.0.0.1:8080"

type Config struct {
	HTTP      HTTPConfig  `mapstructure:"http"`
	Auth      auth.Config `mapstructure:"auth"`
	DBPath    string      `mapstructure:"db_path"`
	RateLimit string      `mapstructure:"rate_limit"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	if c.DBPath == "" {
		return fmt.Errorf("`db_path` is required")
	}
	if c.RateLimit == "" {
		c.RateLimit = "100-S"
	}
	return c.Auth.Validate()
}
