/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package fingerprint provides content hashing for secret payloads.
// Fingerprints are compared across runs to detect no-op updates without
// byte-for-byte payload comparison.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// FromPayload calculates a SHA256 fingerprint of a secret payload.
// Keys are sorted before hashing so the result is independent of map
// iteration order. An empty or nil payload hashes to the digest of the
// empty sequence, so two empty payloads compare equal.
func FromPayload(data map[string][]byte) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(data[k])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equals compares two fingerprints for equality. An empty string means
// "no fingerprint recorded" and never matches.
func Equals(a, b string) bool {
	return a == b && a != ""
}
