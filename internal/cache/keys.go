package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key namespaces. Flushes act on these prefixes, so every producer of a
// cache key must go through the helpers below.
const (
	NamespaceEmbed   = "embed"
	NamespaceQuery   = "query"
	NamespaceSession = "session"
)

// shortHash returns the first 16 hex characters of the SHA-256 of s
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// EmbedKey derives the cache key for an embedding of text under a model.
// The model id and the text feed a single hash separated by a NUL byte,
// so no (model, text) pair can collide with another by concatenation.
func EmbedKey(model, text string) string {
	sum := sha256.Sum256(append(append([]byte(model), 0), text...))
	return fmt.Sprintf("%s:%s", NamespaceEmbed, hex.EncodeToString(sum[:])[:16])
}

// QueryKey derives the cache key for a search result set. The filter
// fingerprint must be canonical so that equal filters collide.
func QueryKey(collection, query, filterFingerprint string, topK int) string {
	return fmt.Sprintf("%s:%s:%s", NamespaceQuery, collection,
		shortHash(fmt.Sprintf("%s|%s|%d", query, filterFingerprint, topK)))
}

// SessionKey derives the cache key for per-session working context
func SessionKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", NamespaceSession, sessionID)
}

// CollectionQueryPrefix is the prefix that invalidates every cached query
// result for a collection after a write.
func CollectionQueryPrefix(collection string) string {
	return fmt.Sprintf("%s:%s:", NamespaceQuery, collection)
}
