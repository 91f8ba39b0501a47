package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr         string
	DBPath       string
	JWTSecret    string
	TokenTTL     time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string
}

func Load() *Config {
	cfg := &Config{
		Addr:         ":8080",
		DBPath:       "whisper.db",
		JWTSecret:    "",
		TokenTTL:     time.Hour,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		LogLevel:     "info",
	}

	if addr := os.Getenv("WHISPER_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if dbPath := os.Getenv("WHISPER_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if secret := os.Getenv("WHISPER_JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}

	if ttlStr := os.Getenv("WHISPER_TOKEN_TTL"); ttlStr != "" {
		if ttl, err := time.ParseDuration(ttlStr); err == nil {
			cfg.TokenTTL = ttl
		}
	}

	if timeoutStr := os.Getenv("WHISPER_READ_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ReadTimeout = time.Duration(timeout) * time.Second
		}
	}

	if timeoutStr := os.Getenv("WHISPER_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = time.Duration(timeout) * time.Second
		}
	}

	if level := os.Getenv("WHISPER_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg
}
