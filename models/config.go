package models

import (
	"fmt"
	"time"

	"github.com/jonanatree/offlinepay/internal/cardgen"
)

const DefaultVelocityWindow = 2 * time.Minute

// TerminalConfig holds the risk parameters a terminal operates with for one session.
// Loading and distributing it is done elsewhere; the terminal only reads it.
type TerminalConfig struct {
	TerminalID     string
	FloorLimit     int64
	VelocityLimit  int
	VelocityWindow time.Duration
	TTL            time.Duration

	blacklist map[string]struct{}
}

// NewTerminalConfig builds a config with the given blacklist. A zero window falls back to
// DefaultVelocityWindow.
func NewTerminalConfig(terminalID string, floorLimit int64, velocityLimit int, window, ttl time.Duration, blacklist []string) TerminalConfig {
	if window <= 0 {
		window = DefaultVelocityWindow
	}
	cfg := TerminalConfig{
		TerminalID:     terminalID,
		FloorLimit:     floorLimit,
		VelocityLimit:  velocityLimit,
		VelocityWindow: window,
		TTL:            ttl,
		blacklist:      make(map[string]struct{}, len(blacklist)),
	}
	for _, pan := range blacklist {
		cfg.blacklist[cardgen.NormalizePAN(pan)] = struct{}{}
	}
	return cfg
}

func (c TerminalConfig) Validate() error {
	if c.FloorLimit < 0 {
		return fmt.Errorf("floor limit must not be negative")
	}
	if c.VelocityLimit < 0 {
		return fmt.Errorf("velocity limit must not be negative")
	}
	if c.VelocityWindow <= 0 {
		return fmt.Errorf("velocity window must be positive")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	return nil
}

// Blacklisted reports whether the card number is on the terminal's hot list.
func (c TerminalConfig) Blacklisted(cardNumber string) bool {
	_, ok := c.blacklist[cardgen.NormalizePAN(cardNumber)]
	return ok
}
