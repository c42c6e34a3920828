package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr   string
	AdminAddr    string
	DBFile       string
	SendBuffer   int
	PingInterval time.Duration
	WriteTimeout time.Duration
	LogFile      string
	LogLevel     slog.Level
}

func Load() (*Config, error) {
	pingInterval, err := time.ParseDuration(getEnv("PING_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("PING_INTERVAL: %w", err)
	}

	writeTimeout, err := time.ParseDuration(getEnv("WRITE_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("WRITE_TIMEOUT: %w", err)
	}

	sendBuffer, err := strconv.Atoi(getEnv("SEND_BUFFER", "256"))
	if err != nil {
		return nil, fmt.Errorf("SEND_BUFFER: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		ListenAddr:   net.JoinHostPort(getEnv("LISTEN_HOST", ""), getEnv("PORT", "3001")),
		AdminAddr:    os.Getenv("ADMIN_ADDR"),
		DBFile:       os.Getenv("CONVERSA_DB"),
		SendBuffer:   sendBuffer,
		PingInterval: pingInterval,
		WriteTimeout: writeTimeout,
		LogFile:      os.Getenv("LOG_FILE"),
		LogLevel:     level,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	_, port, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("PORT must be a number between 0 and 65535, got %q", port)
	}

	if c.AdminAddr != "" && !strings.Contains(c.AdminAddr, ":") {
		return fmt.Errorf("ADMIN_ADDR must be host:port, got %q", c.AdminAddr)
	}

	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be greater than 0")
	}

	if c.PingInterval <= 0 {
		return fmt.Errorf("PING_INTERVAL must be greater than 0")
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("WRITE_TIMEOUT must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
