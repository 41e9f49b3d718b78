package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"callflow_backend/platform/apperr"
	"callflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// HeaderAPIKey carries the shared secret of the voice gateway.
const HeaderAPIKey = "X-Webhook-API-Key"

const hashPrefix = "sha256:"

// KeySet holds the sha256 digests of accepted webhook keys.
type KeySet struct {
	hashes [][]byte
}

// NewKeySet builds a KeySet from configured keys. Entries written as
// "sha256:<hex>" are taken as digests; anything else is hashed here so the
// plaintext is not kept in memory.
func NewKeySet(keys []string) *KeySet {
	ks := &KeySet{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if strings.HasPrefix(k, hashPrefix) {
			if digest, err := hex.DecodeString(strings.TrimPrefix(k, hashPrefix)); err == nil && len(digest) == sha256.Size {
				ks.hashes = append(ks.hashes, digest)
			}
			continue
		}
		digest := sha256.Sum256([]byte(k))
		ks.hashes = append(ks.hashes, digest[:])
	}
	return ks
}

// HashKey returns the hex sha256 digest of a plaintext key.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// Enforced reports whether any key is configured.
func (ks *KeySet) Enforced() bool {
	return ks != nil && len(ks.hashes) > 0
}

// Valid compares the digest of key against every configured digest in
// constant time.
func (ks *KeySet) Valid(key string) bool {
	digest := sha256.Sum256([]byte(key))
	match := 0
	for _, h := range ks.hashes {
		match |= subtle.ConstantTimeCompare(digest[:], h)
	}
	return match == 1
}

// APIKeyAuthMiddleware validates the X-Webhook-API-Key header. When no key is
// configured every request passes.
func APIKeyAuthMiddleware(keys *KeySet) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !keys.Enforced() {
			c.Next()
			return
		}

		apiKey := c.GetHeader(HeaderAPIKey)
		if apiKey == "" {
			httpkit.Abort(c, apperr.Unauthorized("missing API key"))
			return
		}
		if !keys.Valid(apiKey) {
			httpkit.Abort(c, apperr.Unauthorized("invalid API key"))
			return
		}
		c.Next()
	}
}
