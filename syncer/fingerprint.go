package syncer

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/netwatch/record"
)

// Fingerprint algorithms.
const (
	AlgSHA1   = "sha1"
	AlgSHA256 = "sha256"
)

// Fingerprint hashes a canonical, key-sorted serialization of the record.
// Two records with identical field values always produce the same digest
// regardless of key order or map iteration order — that is what lets the
// engine detect "no real change" without a trustworthy timestamp.
//
// When FingerprintFields is configured it is an explicit allow-list; else
// every field participates except the identity and fingerprint bookkeeping
// keys. Values that have no native serialization are stringified, so
// fingerprinting never fails — it only ever produces a stable digest.
func (c *Config) Fingerprint(rec record.Record) string {
	fields := c.FingerprintFields
	if len(fields) == 0 {
		skip := map[string]bool{
			c.IdentityKey:       true,
			c.FingerprintKey:    true,
			c.SoftDeleteFlag:    true,
			c.SoftDeleteTimeKey: true,
		}
		for k := range rec {
			if !skip[k] {
				fields = append(fields, k)
			}
		}
	}
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)

	var b strings.Builder
	for _, k := range sorted {
		b.WriteString(k)
		b.WriteByte('=')
		writeCanonical(&b, rec[k])
		b.WriteByte(';')
	}

	if c.FingerprintAlgorithm == AlgSHA256 {
		sum := sha256.Sum256([]byte(b.String()))
		return fmt.Sprintf("%x", sum)
	}
	sum := sha1.Sum([]byte(b.String()))
	return fmt.Sprintf("%x", sum)
}

// writeCanonical serializes one value deterministically: map keys sorted,
// fixed separators, numbers without exponent notation.
func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString(strconv.Quote(t))
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(t), 'f', -1, 32))
	case int:
		b.WriteString(strconv.Itoa(t))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case json.Number:
		b.WriteString(t.String())
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			writeCanonical(b, t[k])
			b.WriteByte(';')
		}
		b.WriteByte('}')
	case record.Record:
		writeCanonical(b, map[string]any(t))
	case []any:
		b.WriteByte('[')
		for _, e := range t {
			writeCanonical(b, e)
			b.WriteByte(',')
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for _, e := range t {
			b.WriteString(strconv.Quote(e))
			b.WriteByte(',')
		}
		b.WriteByte(']')
	default:
		// json.Marshal sorts map keys, giving a deterministic form for
		// most remaining types; the %v fallback covers everything else.
		if raw, err := json.Marshal(t); err == nil {
			b.Write(raw)
		} else {
			b.WriteString(strconv.Quote(fmt.Sprintf("%v", t)))
		}
	}
}
