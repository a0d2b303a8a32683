// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package search

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rbatllet/blockchain-cli/cerrors"
)

// TestNormalizeKeywords exercises splitting, trimming, deduplication, and
// idempotence.
func TestNormalizeKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{{
		name: "basic split and lowercase",
		in:   "Invoice, 2024-Q1,payment",
		want: []string{"invoice", "2024-q1", "payment"},
	}, {
		name: "empties dropped",
		in:   " , ,invoice,, ",
		want: []string{"invoice"},
	}, {
		name: "dedup preserves first occurrence",
		in:   "b,a,B,A,b",
		want: []string{"b", "a"},
	}, {
		name: "empty input",
		in:   "   ",
		want: nil,
	}}

	for _, test := range tests {
		got, err := NormalizeKeywords(test.in)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("%s: got %v, want %v", test.name, got, test.want)
			continue
		}

		// Idempotence: normalising the normalised form changes nothing.
		again, err := NormalizeKeywords(strings.Join(got, ","))
		if err != nil {
			t.Errorf("%s: renormalise: %v", test.name, err)
			continue
		}
		if !reflect.DeepEqual(again, got) {
			t.Errorf("%s: not idempotent: %v != %v", test.name, again, got)
		}
	}
}

// TestNormalizeKeywordsTooLong ensures over-long tokens are a usage error.
func TestNormalizeKeywordsTooLong(t *testing.T) {
	t.Parallel()

	_, err := NormalizeKeywords(strings.Repeat("x", MaxKeywordLen+1))
	if !errors.Is(err, cerrors.ErrUsage) {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestNormalizeCategory exercises category canonicalisation.
func TestNormalizeCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"finance", "FINANCE", false},
		{"  Notes  ", "NOTES", false},
		{"", "", false},
		{"bad\x00cat", "", true},
	}
	for _, test := range tests {
		got, err := NormalizeCategory(test.in)
		if test.wantErr {
			if !errors.Is(err, cerrors.ErrUsage) {
				t.Errorf("%q: unexpected error %v", test.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", test.in, err)
			continue
		}
		if got != test.want {
			t.Errorf("%q: got %q, want %q", test.in, got, test.want)
		}
	}
}

// TestExtractAutoKeywords exercises each universal token pattern.
func TestExtractAutoKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{{
		name: "iso dates",
		in:   "due 2024-01-15 or 2024/02/28",
		want: []string{"2024-01-15", "2024", "2024/02/28"},
	}, {
		name: "email",
		in:   "contact billing@acme.example please",
		want: []string{"billing@acme.example"},
	}, {
		name: "urls",
		in:   "see https://acme.example/invoices and www.acme.example.",
		want: []string{"https://acme.example/invoices", "www.acme.example"},
	}, {
		name: "structured code",
		in:   "ref ACME-INC-01 settled",
		want: []string{"acme-inc-01"},
	}, {
		name: "currency adjacency",
		in:   "Payment of 50000 EUR received",
		want: []string{"50000 eur", "50000", "eur"},
	}, {
		name: "numbers need three digits",
		in:   "room 42 holds 1500 units and 3.14 is ignored",
		want: []string{"1500"},
	}, {
		name: "dedup keeps first occurrence",
		in:   "1500 then 1500 again",
		want: []string{"1500"},
	}}

	for _, test := range tests {
		got := ExtractAutoKeywords([]byte(test.in))
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("%s: got %v, want %v", test.name, got, test.want)
		}
	}
}

// TestExtractAutoKeywordsCap ensures the deterministic 256-token cap keeps
// earlier occurrences.
func TestExtractAutoKeywordsCap(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < MaxAutoKeywords+100; i++ {
		b.WriteString(numToken(i))
		b.WriteString(" ")
	}

	got := ExtractAutoKeywords([]byte(b.String()))
	if len(got) != MaxAutoKeywords {
		t.Fatalf("token count: got %d, want %d", len(got), MaxAutoKeywords)
	}
	if got[0] != numToken(0) || got[MaxAutoKeywords-1] != numToken(MaxAutoKeywords-1) {
		t.Errorf("cap did not keep earliest occurrences: first %q last %q",
			got[0], got[len(got)-1])
	}
}

func numToken(i int) string {
	// 10000-based so every token has at least three digits and no
	// currency or date shape.
	return "10" + string(rune('0'+(i/100)%10)) + string(rune('0'+(i/10)%10)) +
		string(rune('0'+i%10))
}
