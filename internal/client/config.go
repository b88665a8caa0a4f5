package client

import (
	"fmt"
	"time"

	"github.com/deeprecall/deeprecall/internal/utils"
)

type Config struct {
	// DataDir holds the blob store and the write buffer database
	DataDir   string        `mapstructure:"data_dir"`
	ServerURL string        `mapstructure:"server_url"`
	AuthToken string        `mapstructure:"auth_token"`
	DeviceID  string        `mapstructure:"device_id"`
	User      string        `mapstructure:"user"`
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"sync_interval"`
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("`data_dir` is required")
	}
	resolved, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	c.DataDir = resolved

	if c.ServerURL == "" {
		return fmt.Errorf("`server_url` is required")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("`device_id` is required")
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	return nil
}
