package sciclops

import (
	"fmt"
	"time"

	"go.viam.com/rdk/logging"
)

// Config carries everything needed to open and drive one plate crane.
type Config struct {
	Port     string `json:"port,omitempty"`
	Baudrate int    `json:"baudrate,omitempty"`

	// ReadTimeout bounds each serial exchange; ActionBudget bounds a
	// whole action including every retry.
	ReadTimeout  time.Duration `json:"read_timeout,omitempty"`
	ActionBudget time.Duration `json:"action_budget,omitempty"`

	MaxRetries   int           `json:"max_retries,omitempty"`
	RetryBackoff time.Duration `json:"retry_backoff,omitempty"`

	DefaultSpeed int `json:"default_speed,omitempty"`

	DeckFile string `json:"deck_file,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

const (
	defaultBaudrate     = 115200
	defaultReadTimeout  = 5 * time.Second
	defaultActionBudget = 2 * time.Minute
	defaultMaxRetries   = 3
	defaultRetryBackoff = 250 * time.Millisecond
	defaultSpeed        = 100
)

// Validate ensures all parts of the config are valid
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("must specify port for serial communication")
	}

	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultBaudrate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ActionBudget == 0 {
		cfg.ActionBudget = defaultActionBudget
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.DefaultSpeed == 0 {
		cfg.DefaultSpeed = defaultSpeed
	}
	if cfg.DefaultSpeed < 1 || cfg.DefaultSpeed > 100 {
		return nil, nil, fmt.Errorf("default_speed must be 1..100, got %d", cfg.DefaultSpeed)
	}

	return nil, nil, nil
}

// LoadDeck resolves the configured deck layout, falling back to the
// factory layout when no file is set.
func (cfg *Config) LoadDeck(logger logging.Logger) *Deck {
	if cfg.DeckFile == "" {
		if logger != nil {
			logger.Debug("no deck file specified, using factory layout")
		}
		return DefaultDeck()
	}
	return LoadDeck(cfg.DeckFile, logger)
}
