// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/rbatllet/blockchain-cli/cerrors"
)

const (
	// MaxKeywordLen is the longest accepted keyword token.
	MaxKeywordLen = 64

	// MaxAutoKeywords caps the automatic tokens per block.  Overflow is
	// discarded deterministically: earlier occurrences win.
	MaxAutoKeywords = 256
)

// NormalizeKeywords canonicalises a comma-separated manual keyword list:
// split on comma, trim, lowercase, drop empties, deduplicate preserving
// first occurrence.  The function is idempotent.  A token longer than
// MaxKeywordLen is a usage error.
func NormalizeKeywords(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	seen := make(map[string]bool)
	var keywords []string
	for _, part := range strings.Split(raw, ",") {
		token := strings.ToLower(strings.TrimSpace(part))
		if token == "" {
			continue
		}
		if len(token) > MaxKeywordLen {
			return nil, cerrors.Ef(cerrors.ErrUsage, "keyword-length",
				"keyword %q exceeds %d characters", token, MaxKeywordLen)
		}
		if seen[token] {
			continue
		}
		seen[token] = true
		keywords = append(keywords, token)
	}
	return keywords, nil
}

// NormalizeCategory canonicalises a category tag: trim, uppercase, reject
// control characters.  The empty result means "no category".
func NormalizeCategory(raw string) (string, error) {
	category := strings.ToUpper(strings.TrimSpace(raw))
	for _, r := range category {
		if unicode.IsControl(r) {
			return "", cerrors.E(cerrors.ErrUsage, "category",
				"category contains control characters")
		}
	}
	return category, nil
}

// Universal token patterns, in extraction priority order.  The patterns
// are language independent: structured data shapes rather than words.
var autoPatterns = []*regexp.Regexp{
	// ISO dates, dash or slash separated.
	regexp.MustCompile(`\b\d{4}[-/]\d{2}[-/]\d{2}\b`),
	// Email addresses.
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	// URLs with scheme, or bare www hosts.
	regexp.MustCompile(`\bhttps?://[^\s<>"']+`),
	regexp.MustCompile(`\bwww\.[^\s<>"']+`),
	// Structured codes such as ACME-INC-01.
	regexp.MustCompile(`\b[A-Z]{2,}-[A-Z0-9]{2,}(?:-[A-Z0-9]+)*\b`),
	// Currency amounts and the supported three-letter currency codes.
	regexp.MustCompile(`\b\d+(?:[.,]\d+)?\s?(?:EUR|USD|GBP|CHF|JPY)\b`),
	regexp.MustCompile(`\b(?:EUR|USD|GBP|CHF|JPY)\b`),
	// Integer and decimal numbers of at least three digits.
	regexp.MustCompile(`\b\d+(?:\.\d+)?\b`),
}

type match struct {
	pos   int
	order int
	token string
}

// ExtractAutoKeywords derives the automatic universal tokens of a
// cleartext payload.  Tokens are lowercased, deduplicated, and capped at
// MaxAutoKeywords; earlier occurrences in the payload are kept first.
func ExtractAutoKeywords(payload []byte) []string {
	text := string(payload)
	var matches []match
	for order, pattern := range autoPatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			token := text[loc[0]:loc[1]]
			if order == len(autoPatterns)-1 && integerDigits(token) < 3 {
				continue
			}
			token = normalizeToken(token)
			if token == "" || len(token) > MaxKeywordLen {
				continue
			}
			matches = append(matches, match{pos: loc[0], order: order,
				token: token})
		}
	}

	// Earlier payload positions win; pattern priority breaks ties.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].pos != matches[j].pos {
			return matches[i].pos < matches[j].pos
		}
		return matches[i].order < matches[j].order
	})

	seen := make(map[string]bool)
	var tokens []string
	for _, m := range matches {
		if seen[m.token] {
			continue
		}
		seen[m.token] = true
		tokens = append(tokens, m.token)
		if len(tokens) == MaxAutoKeywords {
			break
		}
	}
	return tokens
}

// normalizeToken lowercases a token and strips trailing punctuation that
// sentence context attaches to URLs and codes.
func normalizeToken(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	return strings.TrimRight(token, ".,;:!?)")
}

// integerDigits counts the digits of the integer part of a numeric token.
func integerDigits(s string) int {
	n := 0
	for _, r := range s {
		if r == '.' {
			break
		}
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
