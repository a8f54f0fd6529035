package cqn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for structural keys.
// Version suffix enables future algorithm migration.
const (
	DomainJoin   = "cqnlower/join/v1"
	DomainFilter = "cqnlower/filter/v1"
	DomainQuery  = "cqnlower/query/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StructuralKey hashes the canonical form of the given parts under a domain.
// Equal keys mean structurally identical inputs.
func StructuralKey(domain string, parts ...any) (string, error) {
	canonical, err := MarshalCanonical(partsJSON(parts))
	if err != nil {
		return "", fmt.Errorf("StructuralKey: failed to marshal: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// FilterKey returns the structural key of an infix filter. An empty filter
// has the empty key.
func FilterKey(filter []Expr) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}
	return StructuralKey(DomainFilter, filter)
}

func partsJSON(parts []any) []any {
	out := make([]any, len(parts))
	for i, p := range parts {
		switch v := p.(type) {
		case []string:
			arr := make([]any, len(v))
			for j, s := range v {
				arr[j] = s
			}
			out[i] = arr
		default:
			out[i] = ToJSON(p)
		}
	}
	return out
}

// QueryKey returns the content-addressed identity of a query.
func QueryKey(q *Select) (string, error) {
	return StructuralKey(DomainQuery, q)
}
