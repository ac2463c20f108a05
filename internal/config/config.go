// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	PostgresDSN string
	RedisAddr   string

	Workers         int
	ClaimBatch      int
	TickInterval    time.Duration
	StaleAfter      time.Duration
	MaxAttempts     int
	RetentionWindow time.Duration

	PDFServiceURL  string
	PDFServiceKey  string
	PDFConcurrency int64

	EmailEndpoint    string
	EmailAPIKey      string
	EmailFrom        string
	EmailConcurrency int64

	StorageURL         string
	StorageKey         string
	NetworkConcurrency int64
	SignedURLTTL       time.Duration

	ExternalTimeout time.Duration
}

func Load() (Config, error) {
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return Config{}, fmt.Errorf("parse PORT: %w", err)
	}
	workers, err := getEnvInt("WORKERS", 4)
	if err != nil {
		return Config{}, fmt.Errorf("parse WORKERS: %w", err)
	}
	claimBatch, err := getEnvInt("CLAIM_BATCH", 8)
	if err != nil {
		return Config{}, fmt.Errorf("parse CLAIM_BATCH: %w", err)
	}
	maxAttempts, err := getEnvInt("MAX_ATTEMPTS", 3)
	if err != nil {
		return Config{}, fmt.Errorf("parse MAX_ATTEMPTS: %w", err)
	}
	tick, err := getEnvDuration("TICK_INTERVAL", 15*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("parse TICK_INTERVAL: %w", err)
	}
	staleAfter, err := getEnvDuration("STALE_AFTER", 10*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("parse STALE_AFTER: %w", err)
	}
	retention, err := getEnvDuration("RETENTION_WINDOW", 14*24*time.Hour)
	if err != nil {
		return Config{}, fmt.Errorf("parse RETENTION_WINDOW: %w", err)
	}
	signedTTL, err := getEnvDuration("SIGNED_URL_TTL", 15*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("parse SIGNED_URL_TTL: %w", err)
	}
	externalTimeout, err := getEnvDuration("EXTERNAL_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("parse EXTERNAL_TIMEOUT: %w", err)
	}
	pdfConc, err := getEnvInt("PDF_CONCURRENCY", 3)
	if err != nil {
		return Config{}, fmt.Errorf("parse PDF_CONCURRENCY: %w", err)
	}
	emailConc, err := getEnvInt("EMAIL_CONCURRENCY", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse EMAIL_CONCURRENCY: %w", err)
	}
	netConc, err := getEnvInt("NETWORK_CONCURRENCY", 10)
	if err != nil {
		return Config{}, fmt.Errorf("parse NETWORK_CONCURRENCY: %w", err)
	}

	cfg := Config{
		Port:               port,
		PostgresDSN:        getEnv("POSTGRES_DSN", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		Workers:            workers,
		ClaimBatch:         claimBatch,
		TickInterval:       tick,
		StaleAfter:         staleAfter,
		MaxAttempts:        maxAttempts,
		RetentionWindow:    retention,
		PDFServiceURL:      getEnv("PDF_SERVICE_URL", ""),
		PDFServiceKey:      getEnv("PDF_SERVICE_KEY", ""),
		PDFConcurrency:     int64(pdfConc),
		EmailEndpoint:      getEnv("EMAIL_ENDPOINT", ""),
		EmailAPIKey:        getEnv("EMAIL_API_KEY", ""),
		EmailFrom:          getEnv("EMAIL_FROM", "noreply@league.local"),
		EmailConcurrency:   int64(emailConc),
		StorageURL:         getEnv("STORAGE_URL", ""),
		StorageKey:         getEnv("STORAGE_KEY", ""),
		NetworkConcurrency: int64(netConc),
		SignedURLTTL:       signedTTL,
		ExternalTimeout:    externalTimeout,
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}
