// Package config reads settings from the environment, after loading a .env
// file when one is present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageInMemory = "in-memory"
	StoragePostgres = "postgres"
)

type ServerConfig struct {
	Port        string
	Storage     string
	DatabaseURL string
	LogLevel    string
}

type ClientConfig struct {
	APIURL         string
	HubURL         string
	Token          string
	CourseID       string
	LessonID       string
	Highlight      time.Duration
	RequestTimeout time.Duration
	LogLevel       string
}

// PushEnabled reports whether a hub endpoint is configured.
func (c ClientConfig) PushEnabled() bool {
	return c.HubURL != ""
}

func loadDotEnv(files ...string) {
	for _, f := range files {
		if err := godotenv.Load(f); err == nil {
			return
		}
	}
}

// LoadServer reads the server settings. Callers apply flag overrides and
// then Validate.
func LoadServer() ServerConfig {
	loadDotEnv(".env.server", ".env")

	return ServerConfig{
		Port:        getEnv("PORT", "8080"),
		Storage:     getEnv("STORAGE", StorageInMemory),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

func (c ServerConfig) Validate() error {
	switch c.Storage {
	case StorageInMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage %q (want %s or %s)", c.Storage, StorageInMemory, StoragePostgres)
	}
	return nil
}

// LoadClient reads the watcher settings.
func LoadClient() ClientConfig {
	loadDotEnv(".env.client", ".env")

	return ClientConfig{
		APIURL:         getEnv("QA_API_URL", "http://localhost:8080"),
		HubURL:         getEnv("QA_HUB_URL", ""),
		Token:          getEnv("QA_TOKEN", ""),
		CourseID:       getEnv("QA_COURSE_ID", ""),
		LessonID:       getEnv("QA_LESSON_ID", ""),
		Highlight:      time.Duration(getEnvInt("QA_HIGHLIGHT_MS", 3000)) * time.Millisecond,
		RequestTimeout: time.Duration(getEnvInt("QA_REQUEST_TIMEOUT_MS", 15000)) * time.Millisecond,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// Validate is called after flags have been applied.
func (c ClientConfig) Validate() error {
	if c.APIURL == "" {
		return errors.New("QA_API_URL is required")
	}
	if c.CourseID == "" && c.LessonID == "" {
		return errors.New("QA_COURSE_ID or QA_LESSON_ID is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// Level parses a log level name, falling back to info.
func Level(name string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return l
}
