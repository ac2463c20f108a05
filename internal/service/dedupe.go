package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DedupeKey hashes the canonical form of a payload. Unmarshalling into
// generic values and re-marshalling sorts object keys, so two payloads that
// differ only in key order or whitespace hash the same.
func DedupeKey(typ string, payload json.RawMessage) (string, error) {
	var v any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &v); err != nil {
			return "", fmt.Errorf("dedupe: payload is not valid json: %w", err)
		}
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("dedupe: canonicalize payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(typ))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
