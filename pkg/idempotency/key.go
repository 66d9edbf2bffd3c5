package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"
)

var (
	ErrKeyRequired = errors.New("idempotency key is required for this operation")
	ErrKeyInvalid  = errors.New("invalid idempotency key format")
	ErrKeyTooLong  = errors.New("idempotency key exceeds maximum length")
	ErrNotFound    = errors.New("idempotency key not found")
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Record is a stored Idempotency-Key together with the response it produced.
type Record struct {
	ID            string `bson:"_id"`
	Key           string `bson:"key"`
	Scope         string `bson:"scope"`
	UserID        string `bson:"userId,omitempty"`
	RequestPath   string `bson:"requestPath"`
	RequestMethod string `bson:"requestMethod"`
	Fingerprint   string `bson:"fingerprint"`

	LockedAt *time.Time `bson:"lockedAt,omitempty"`

	ResponseCode    int               `bson:"responseCode,omitempty"`
	ResponseBody    []byte            `bson:"responseBody,omitempty"`
	ResponseHeaders map[string]string `bson:"responseHeaders,omitempty"`

	CreatedAt   time.Time  `bson:"createdAt"`
	CompletedAt *time.Time `bson:"completedAt,omitempty"`
	ExpiresAt   time.Time  `bson:"expiresAt"`
}

// IsCompleted reports whether a response has been stored.
func (r *Record) IsCompleted() bool {
	return r.CompletedAt != nil
}

// ValidateKey checks the key against the allowed alphabet and maxLength.
func ValidateKey(key string, maxLength int) error {
	if key == "" {
		return ErrKeyRequired
	}
	if len(key) > maxLength {
		return ErrKeyTooLong
	}
	if !keyPattern.MatchString(key) {
		return ErrKeyInvalid
	}
	return nil
}

// Fingerprint hashes the request line and body. A retried request must hash
// to the same value to receive the stored response.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeKey trims surrounding whitespace.
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}
