// Package xid generates prefixed identifiers such as "sale-0194f3...".
// The prefix names the entity kind, a millisecond timestamp keeps IDs
// roughly sortable by creation time, and a random suffix makes collisions
// within the same millisecond negligible.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an identifier of the form <prefix>-<millis-hex>-<random-hex>.
func New(prefix string) string {
	millis := time.Now().UnixMilli()
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is a broken host; fall back to a plain
		// timestamp rather than panicking mid-request.
		return fmt.Sprintf("%s-%012x", prefix, millis)
	}
	return fmt.Sprintf("%s-%012x-%s", prefix, millis, hex.EncodeToString(buf))
}
