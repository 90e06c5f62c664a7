package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides file values with TASKSHARE_* variables that are set.
func (c *Config) ApplyEnv() {
	if v := getEnv("TASKSHARE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getEnv("TASKSHARE_IDENTITY_HEADER"); v != "" {
		c.Server.IdentityHeader = v
	}
	if v := getEnvInt("TASKSHARE_SHUTDOWN_TIMEOUT_SECONDS"); v > 0 {
		c.Server.ShutdownTimeoutSeconds = v
	}
	if v := getEnv("TASKSHARE_STORE"); v != "" {
		c.Store.Driver = v
	}
	if v := getEnv("TASKSHARE_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := getEnv("TASKSHARE_DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getEnvInt(key string) int {
	v := getEnv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
