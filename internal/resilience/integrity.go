package resilience

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/hyperengineering/lattice/internal/types"
)

// Checksum returns the hex SHA-256 of the canonical JSON encoding of
// data. Struct field order makes the encoding deterministic for the
// payload types that flow through the guard.
func Checksum(data any) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode for checksum: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// ValidateIntegrity recomputes a checksum over data and, when an
// expected value is supplied, compares them. Issues are specific
// strings rather than a bare boolean so callers can surface detail.
func ValidateIntegrity(data any, expectedChecksum string) types.IntegrityResult {
	actual, err := Checksum(data)
	if err != nil {
		return types.IntegrityResult{
			IsValid: false,
			Issues:  []string{fmt.Sprintf("data is not checksummable: %v", err)},
		}
	}

	result := types.IntegrityResult{IsValid: true, Checksum: actual}
	if expectedChecksum != "" && actual != expectedChecksum {
		result.IsValid = false
		result.Issues = append(result.Issues,
			fmt.Sprintf("checksum mismatch: expected %s, got %s", expectedChecksum, actual))
	}
	return result
}
