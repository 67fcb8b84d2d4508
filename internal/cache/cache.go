// Package cache keeps extracted page text so a page is fetched at most
// once while it is cached.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Pages remembers the extracted text of fetched pages. A page remembered
// with empty text is a known miss and is not fetched again.
type Pages interface {
	Lookup(url string) (text string, seen bool)
	Remember(url, text string)
	Len() int
}

// PageKey is the storage key of a page URL
func PageKey(url string) string {
	hash := sha256.Sum256([]byte(url))
	return "veritas:v1:page:" + hex.EncodeToString(hash[:])
}
