package contact

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeBRFCID computes a BRFC capability ID:
//
//	ID = hex(SHA256d(title + author + version))[:12]
func ComputeBRFCID(title, author, version string) string {
	first := sha256.Sum256([]byte(title + author + version))
	second := sha256.Sum256(first[:])
	return hex.EncodeToString(second[:6])
}

// BRFCStampRelay advertises the relay serving a paymail's mailbox.
var BRFCStampRelay = ComputeBRFCID("Stamp Relay", "libstamp", "1.0")
