package models

import (
	"sync"
	"time"

	"github.com/jonanatree/offlinepay/internal/expiry"
)

// Card is the part of a payment card the authorizer relies on. Chip and issuer data behind
// CanTransactOffline are opaque to the terminal.
type Card interface {
	Number() string
	CanTransactOffline() bool
	IncrementCounter()
}

// ChipCard is an EMV-style card that keeps a count of offline approvals and refuses further
// offline use once the issuer cap is reached or the card has expired.
type ChipCard struct {
	PAN            string
	ExpirationDate string // YYMM
	OfflineLimit   int

	mu           sync.Mutex
	offlineCount int
	now          func() time.Time
}

func NewChipCard(pan, expirationDate string, offlineLimit int) *ChipCard {
	return &ChipCard{
		PAN:            pan,
		ExpirationDate: expirationDate,
		OfflineLimit:   offlineLimit,
		now:            time.Now,
	}
}

func (c *ChipCard) Number() string {
	return c.PAN
}

func (c *ChipCard) CanTransactOffline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.offlineCount >= c.OfflineLimit {
		return false
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	expired, err := expiry.IsExpired(c.ExpirationDate, now(), time.UTC)
	if err != nil {
		return false
	}
	return !expired
}

func (c *ChipCard) IncrementCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offlineCount++
}

// OfflineCount returns the number of offline approvals recorded on the card.
func (c *ChipCard) OfflineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offlineCount
}
