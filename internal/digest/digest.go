// Package digest implements the APOP challenge-response check: a unique
// per-connection nonce and the MD5 digest of nonce plus shared secret.
package digest

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Realm is the suffix used inside every nonce.
const Realm = "mailsystem"

var nonceSeq atomic.Uint64

// NewNonce returns a fresh nonce such as "<4242.1718000000000000000.7@mailsystem>".
// The pid, clock and counter together make it unique per connection.
func NewNonce() string {
	return fmt.Sprintf("<%d.%d.%d@%s>", os.Getpid(), time.Now().UnixNano(), nonceSeq.Add(1), Realm)
}

// Compute returns the lowercase hex MD5 of nonce followed by secret.
func Compute(nonce, secret string) string {
	sum := md5.Sum([]byte(nonce + secret))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether digest matches Compute(nonce, secret), ignoring case.
func Verify(nonce, secret, digest string) bool {
	want := Compute(nonce, secret)
	got := strings.ToLower(strings.TrimSpace(digest))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
