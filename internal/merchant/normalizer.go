// Package merchant canonicalizes raw transaction descriptions into
// comparable merchant keys.
package merchant

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"subtrack/internal/core"
)

// defaultStripTokens are noise tokens removed from every description:
// payment-rail markers, POS terminal prefixes, legal suffixes and web cruft.
var defaultStripTokens = []string{
	"pos", "tx", "ref", "payment", "pmt", "autopay", "recurring",
	"subscr", "subscription", "direct", "debit", "card",
	"inc", "llc", "ltd", "srl", "gmbh", "ab", "bv",
	"com", "net", "www", "co",
}

// Normalizer folds raw bank descriptions into merchant keys.
// It is safe for concurrent use after construction.
type Normalizer struct {
	strip map[string]struct{}
}

type stripListFile struct {
	Strip []string `yaml:"strip"`
}

// NewNormalizer builds a normalizer from the default strip list plus extras.
func NewNormalizer(extra []string) *Normalizer {
	strip := make(map[string]struct{}, len(defaultStripTokens)+len(extra))
	for _, tok := range defaultStripTokens {
		strip[strings.ToLower(tok)] = struct{}{}
	}
	for _, tok := range extra {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			strip[tok] = struct{}{}
		}
	}
	return &Normalizer{strip: strip}
}

// NewFromFile builds a normalizer with extra strip tokens loaded from a YAML
// file. An empty path yields the defaults.
func NewFromFile(path string) (*Normalizer, error) {
	if path == "" {
		return NewNormalizer(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strip list: %w", err)
	}
	var f stripListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse strip list: %w", err)
	}
	return NewNormalizer(f.Strip), nil
}

// Normalize canonicalizes a raw description into a merchant key.
// Pure and total: lower-cases, splits on punctuation and whitespace, drops
// tokens that look like reference numbers, and drops strip-list tokens.
// Idempotent: Normalize(Normalize(x)) == Normalize(x).
func (n *Normalizer) Normalize(raw string) core.MerchantKey {
	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	kept := make([]string, 0, len(fields))
	for _, tok := range fields {
		if isReferenceNumber(tok) {
			continue
		}
		if _, noise := n.strip[tok]; noise {
			continue
		}
		kept = append(kept, tok)
	}
	return core.MerchantKey(strings.Join(kept, " "))
}

// DisplayName derives a human-readable merchant name from a raw description:
// the first alphabetic token, title-cased. Falls back to the trimmed input.
func (n *Normalizer) DisplayName(raw string) string {
	for _, tok := range strings.Fields(raw) {
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) {
				return r
			}
			return -1
		}, tok)
		if cleaned != "" {
			lower := strings.ToLower(cleaned)
			return strings.ToUpper(lower[:1]) + lower[1:]
		}
	}
	return strings.TrimSpace(raw)
}

// isReferenceNumber reports whether a token looks like a transaction or
// terminal reference: any token that is digits-only, or longer than four
// runes with a digit majority.
func isReferenceNumber(tok string) bool {
	digits := 0
	for _, r := range tok {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if digits == len(tok) {
		return true
	}
	return len(tok) > 4 && digits*2 > len(tok)
}
