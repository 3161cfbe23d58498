package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// randomHex returns n random bytes, hex encoded
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// sweepEvery calls sweep every interval until ctx is done
func sweepEvery(ctx context.Context, interval time.Duration, sweep func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
