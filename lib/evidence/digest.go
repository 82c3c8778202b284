// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest of an archive body.
type Digest [32]byte

// digestKey separates evidence digests from any other BLAKE3 use of
// the same bytes: ASCII "mcp-sandbox.evidence" zero-padded to 32
// bytes. Changing it invalidates every recorded digest.
var digestKey = [32]byte{
	'm', 'c', 'p', '-', 's', 'a', 'n', 'd', 'b', 'o', 'x', '.',
	'e', 'v', 'i', 'd', 'e', 'n', 'c', 'e',
}

func digestOf(body []byte) Digest {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("evidence: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(body)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// String returns the hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a 64-character hex string.
func ParseDigest(value string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return digest, fmt.Errorf("parsing evidence digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("evidence digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
