package kms

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/wallet-recovery-vault/cryptoutils"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// MaxShares is the largest number of shares a single split can produce.
const MaxShares = 255

var (
	ErrInvalidThreshold = errors.New("threshold must be at least 2 and at most the number of shares")
	ErrEmptySecret      = errors.New("cannot split an empty secret")
	ErrTooFewShares     = errors.New("at least two shares are required")
)

// ShamirSharer implements interfaces.SecretSharer with Shamir's Secret Sharing
// over GF(2^8). Each share is len(secret)+1 bytes; the trailing byte is the
// share's x-coordinate.
type ShamirSharer struct{}

var _ interfaces.SecretSharer = ShamirSharer{}

// NewShamirSharer returns a ShamirSharer.
func NewShamirSharer() ShamirSharer {
	return ShamirSharer{}
}

// Split divides secret into parts shares, any threshold of which reconstruct it.
func (ShamirSharer) Split(secret []byte, parts, threshold int) ([][]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if threshold < 2 || parts < threshold || parts > MaxShares {
		return nil, fmt.Errorf("%w: threshold=%d parts=%d", ErrInvalidThreshold, threshold, parts)
	}

	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}
	return shares, nil
}

// Combine reconstructs a secret from shares produced by Split.
func (ShamirSharer) Combine(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, ErrTooFewShares
	}
	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct secret: %w", err)
	}
	return secret, nil
}

// ShareCollector accumulates shares for a single reconstruction, keyed by
// their 1-based share index. It is safe for concurrent use.
//
// Shares are copied on Add and wiped when the collector is reset or after a
// successful Reconstruct.
type ShareCollector struct {
	mu             sync.Mutex
	threshold      int
	sharer         interfaces.SecretSharer
	receivedShares map[int][]byte
	byShareID      map[string]int
}

// NewShareCollector creates a collector that needs threshold shares.
func NewShareCollector(threshold int, sharer interfaces.SecretSharer) *ShareCollector {
	return &ShareCollector{
		threshold:      threshold,
		sharer:         sharer,
		receivedShares: make(map[int][]byte),
		byShareID:      make(map[string]int),
	}
}

// Has reports whether a share with the given id was already collected.
func (c *ShareCollector) Has(shareID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byShareID[shareID]
	return ok
}

// Add stores a share. It returns false if shareID or index is already present.
func (c *ShareCollector) Add(shareID string, index int, share []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byShareID[shareID]; ok {
		return false
	}
	if _, ok := c.receivedShares[index]; ok {
		return false
	}
	c.receivedShares[index] = append([]byte(nil), share...)
	c.byShareID[shareID] = index
	return true
}

// Count returns the number of collected shares.
func (c *ShareCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.receivedShares)
}

// Remaining returns how many more shares are needed, never negative.
func (c *ShareCollector) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return max(0, c.threshold-len(c.receivedShares))
}

// Ready reports whether enough shares have been collected.
func (c *ShareCollector) Ready() bool {
	return c.Remaining() == 0
}

// Reconstruct combines the collected shares. On success the collected shares
// are wiped.
func (c *ShareCollector) Reconstruct() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.receivedShares) < c.threshold {
		return nil, ErrTooFewShares
	}

	shares := make([][]byte, 0, len(c.receivedShares))
	for _, share := range c.receivedShares {
		shares = append(shares, share)
	}

	secret, err := c.sharer.Combine(shares)
	if err != nil {
		return nil, err
	}
	c.resetLocked()
	return secret, nil
}

// Reset wipes and forgets every collected share.
func (c *ShareCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *ShareCollector) resetLocked() {
	for i := range c.receivedShares {
		cryptoutils.Wipe(c.receivedShares[i])
	}
	c.receivedShares = make(map[int][]byte)
	c.byShareID = make(map[string]int)
}
