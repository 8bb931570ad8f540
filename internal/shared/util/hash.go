package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Fingerprint returns the hex sha256 of raw upload bytes.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ChatKey returns a filesystem-safe directory name for a chat.
func ChatKey(chatID int64) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(chatID, 10)))
	return hex.EncodeToString(sum[:8])
}
