package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the canvas server
type Config struct {
	Port     string `yaml:"port"`
	RedisURL string `yaml:"redis_url"`

	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`

	Canvas struct {
		Width      int    `yaml:"width"`
		Height     int    `yaml:"height"`
		Background string `yaml:"background"`
	} `yaml:"canvas"`

	Limits struct {
		SessionTTL         time.Duration `yaml:"session_ttl"`
		Cooldown           time.Duration `yaml:"cooldown"`
		SessionCreateRate  float64       `yaml:"session_create_rate"`
		SessionCreateBurst int           `yaml:"session_create_burst"`

		// ClientIPHeader names a header set by a trusted proxy carrying the
		// client address, such as X-Forwarded-For. Empty uses the peer address.
		ClientIPHeader string `yaml:"client_ip_header"`
	} `yaml:"limits"`

	WebSocket struct {
		RequireSession bool          `yaml:"require_session"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		SendBuffer     int           `yaml:"send_buffer"`
	} `yaml:"websocket"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the reference deployment: 500x500 canvas, 1h sessions, 30s cooldown
func Default() Config {
	var c Config
	c.Port = "8000"
	c.NATS.Subject = "canvas.pixels"
	c.Canvas.Width = 500
	c.Canvas.Height = 500
	c.Canvas.Background = "#ffffff"
	c.Limits.SessionTTL = time.Hour
	c.Limits.Cooldown = 30 * time.Second
	// Session throttling is off unless a rate is configured
	c.Limits.SessionCreateRate = 0
	c.Limits.SessionCreateBurst = 5
	c.WebSocket.WriteTimeout = 10 * time.Second
	c.WebSocket.SendBuffer = 4096
	c.Log.Level = "info"
	c.Log.Format = "console"
	return c
}

// Load builds the configuration: defaults, then the optional yaml file named
// by CANVAS_CONFIG, then environment variables
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CANVAS_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	c.Port = getEnv("PORT", c.Port)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Subject = getEnv("NATS_SUBJECT", c.NATS.Subject)
	c.Canvas.Background = getEnv("CANVAS_BACKGROUND", c.Canvas.Background)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Limits.ClientIPHeader = getEnv("CLIENT_IP_HEADER", c.Limits.ClientIPHeader)

	var err error
	if c.Canvas.Width, err = getEnvAsInt("CANVAS_WIDTH", c.Canvas.Width); err != nil {
		errs = append(errs, err)
	}
	if c.Canvas.Height, err = getEnvAsInt("CANVAS_HEIGHT", c.Canvas.Height); err != nil {
		errs = append(errs, err)
	}
	if c.Limits.SessionTTL, err = getEnvAsDuration("SESSION_TTL", c.Limits.SessionTTL); err != nil {
		errs = append(errs, err)
	}
	if c.Limits.Cooldown, err = getEnvAsDuration("COOLDOWN", c.Limits.Cooldown); err != nil {
		errs = append(errs, err)
	}
	if c.Limits.SessionCreateRate, err = getEnvAsFloat("SESSION_CREATE_RATE", c.Limits.SessionCreateRate); err != nil {
		errs = append(errs, err)
	}
	if c.Limits.SessionCreateBurst, err = getEnvAsInt("SESSION_CREATE_BURST", c.Limits.SessionCreateBurst); err != nil {
		errs = append(errs, err)
	}
	if c.WebSocket.RequireSession, err = getEnvAsBool("WS_REQUIRE_SESSION", c.WebSocket.RequireSession); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Validate rejects settings the server can not run with
func (c Config) Validate() error {
	var errs []error
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		errs = append(errs, fmt.Errorf("canvas size must be positive, got %dx%d", c.Canvas.Width, c.Canvas.Height))
	}
	if c.Limits.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("session ttl must be positive, got %s", c.Limits.SessionTTL))
	}
	if c.Limits.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("cooldown must be positive, got %s", c.Limits.Cooldown))
	}
	if c.WebSocket.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("websocket write timeout must be positive, got %s", c.WebSocket.WriteTimeout))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("websocket send buffer must be positive, got %d", c.WebSocket.SendBuffer))
	}
	if c.Limits.SessionCreateRate < 0 {
		errs = append(errs, fmt.Errorf("session create rate must not be negative, got %g", c.Limits.SessionCreateRate))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return intValue, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// getEnvAsDuration accepts Go durations ("30s") or plain seconds ("30")
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
