// Package cache maps synthesis fingerprints to previously produced audio URLs.
//
// Lookups and writes fail open: a backend outage degrades latency, never
// correctness, so Get reports a miss and Set drops the write after logging.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const keyPrefix = "tts"

// Store is a key/value store with per-entry expiry. A ttl <= 0 stores the
// value without expiry. Expired entries behave exactly like missing ones.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)

	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Key derives the fingerprint for a (voice, text) pair:
// tts:{voiceID}:{hex(sha256(text))}.
func Key(voiceID, text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + ":" + voiceID + ":" + hex.EncodeToString(sum[:])
}
