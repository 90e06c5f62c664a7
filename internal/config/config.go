package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

type Config struct {
	Server    Server     `yaml:"server" json:"server"`
	Store     Store      `yaml:"store" json:"store"`
	SeedUsers []SeedUser `yaml:"seed_users" json:"seed_users"`
}

type Server struct {
	Addr                   string `yaml:"addr" json:"addr"`
	IdentityHeader         string `yaml:"identity_header" json:"identity_header"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
}

type Store struct {
	Driver      string `yaml:"driver" json:"driver"`
	DataDir     string `yaml:"data_dir" json:"data_dir"`
	DatabaseURL string `yaml:"database_url" json:"database_url"`
}

// SeedUser is provisioned at startup when no user with that email exists.
type SeedUser struct {
	ID          string `yaml:"id" json:"id,omitempty"`
	Email       string `yaml:"email" json:"email"`
	DisplayName string `yaml:"display_name" json:"display_name"`
}

func (s *Server) ApplyDefaults() {
	if strings.TrimSpace(s.Addr) == "" {
		s.Addr = ":8080"
	}
	if strings.TrimSpace(s.IdentityHeader) == "" {
		s.IdentityHeader = "X-Auth-Subject"
	}
	if s.ShutdownTimeoutSeconds <= 0 {
		s.ShutdownTimeoutSeconds = 10
	}
}

func (s *Store) ApplyDefaults() {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if s.Driver == "" {
		s.Driver = DriverMemory
	}
	if strings.TrimSpace(s.DataDir) == "" {
		s.DataDir = "data"
	}
}

func (c *Config) ApplyDefaults() {
	c.Server.ApplyDefaults()
	c.Store.ApplyDefaults()
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverFile:
	case DriverPostgres:
		if strings.TrimSpace(c.Store.DatabaseURL) == "" {
			return errors.New("store.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	for i, u := range c.SeedUsers {
		if strings.TrimSpace(u.Email) == "" {
			return fmt.Errorf("seed_users[%d]: email is required", i)
		}
	}
	return nil
}

// Load reads path if it exists, then applies env overrides and defaults. An
// empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	var r Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(b, &r); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	r.ApplyEnv()
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
