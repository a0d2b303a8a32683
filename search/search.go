// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package search

import (
	"sort"
	"strings"
	"sync"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/database"
	"github.com/rbatllet/blockchain-cli/offchain"
)

// Level selects how much work a search is willing to do.
type Level int

// The three performance tiers, cheapest first.  Each tier's result set
// contains the previous tier's.
const (
	// FastOnly scans the keyword indexes only.
	FastOnly Level = iota

	// IncludeData additionally substring-scans inline payloads.
	IncludeData

	// ExhaustiveOffchain additionally decrypts off-chain payloads on
	// demand.
	ExhaustiveOffchain
)

// String returns the level in its CLI spelling.
func (l Level) String() string {
	switch l {
	case FastOnly:
		return "FAST_ONLY"
	case IncludeData:
		return "INCLUDE_DATA"
	case ExhaustiveOffchain:
		return "EXHAUSTIVE_OFFCHAIN"
	}
	return "UNKNOWN"
}

// ParseLevel parses the CLI spelling of a level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FAST_ONLY":
		return FastOnly, nil
	case "INCLUDE_DATA":
		return IncludeData, nil
	case "EXHAUSTIVE_OFFCHAIN":
		return ExhaustiveOffchain, nil
	}
	return 0, cerrors.Ef(cerrors.ErrUsage, "search-level",
		"unknown search level %q", s)
}

// decryptWorkers bounds the worker pool an exhaustive search owns for
// off-chain decryption.
const decryptWorkers = 4

// Query describes one search.
type Query struct {
	// Term is the query token.  Empty means filter-only search.
	Term string

	// Filter restricts results by structural attributes.
	Filter database.Filter

	// Level is the performance tier.
	Level Level

	// Limit truncates the result after ordering; zero means unlimited.
	Limit int
}

// Result is the outcome of a search.
type Result struct {
	// Blocks are the matches in ascending block-number order.
	Blocks []*database.Block

	// Undecidable lists blocks an exhaustive search could not examine
	// because their off-chain payload failed to decrypt.  They are
	// excluded from Blocks.
	Undecidable []uint64
}

// Run executes a query inside the caller's read transaction.  Off-chain
// payloads decrypted during an exhaustive search are held only for the
// duration of the call.
func Run(tx *database.Tx, blobs *offchain.Store, q *Query) (*Result, error) {
	if q.Term == "" && q.Filter.IsZero() {
		return nil, cerrors.E(cerrors.ErrUsage, "empty-search",
			"a query term or at least one filter is required")
	}

	result := &Result{}
	var numbers []uint64

	if q.Term != "" {
		set := make(map[uint64]bool)

		fast, err := tx.BlockNumbersByKeyword(q.Term)
		if err != nil {
			return nil, err
		}
		for _, n := range fast {
			set[n] = true
		}

		if q.Level >= IncludeData {
			inline, err := tx.BlockNumbersByInlineData(q.Term)
			if err != nil {
				return nil, err
			}
			for _, n := range inline {
				set[n] = true
			}
		}

		if q.Level >= ExhaustiveOffchain {
			undecidable, err := scanOffChain(tx, blobs, q.Term, set)
			if err != nil {
				return nil, err
			}
			result.Undecidable = undecidable
		}

		numbers = make([]uint64, 0, len(set))
		for n := range set {
			numbers = append(numbers, n)
		}
	}

	if !q.Filter.IsZero() {
		filtered, err := tx.BlockNumbersByFilter(&q.Filter)
		if err != nil {
			return nil, err
		}
		if q.Term == "" {
			numbers = filtered
		} else {
			allowed := make(map[uint64]bool, len(filtered))
			for _, n := range filtered {
				allowed[n] = true
			}
			kept := numbers[:0]
			for _, n := range numbers {
				if allowed[n] {
					kept = append(kept, n)
				}
			}
			numbers = kept
		}
	}

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	if q.Limit > 0 && len(numbers) > q.Limit {
		numbers = numbers[:q.Limit]
	}

	for _, n := range numbers {
		b, err := tx.BlockByNumber(n)
		if err != nil {
			return nil, err
		}
		result.Blocks = append(result.Blocks, b)
	}
	sort.Slice(result.Undecidable, func(i, j int) bool {
		return result.Undecidable[i] < result.Undecidable[j]
	})
	return result, nil
}

// scanOffChain substring-scans every off-chain payload with a bounded
// worker pool, adding matches to set and returning the blocks whose
// payloads could not be decrypted.  A decryption failure never aborts the
// search.
func scanOffChain(tx *database.Tx, blobs *offchain.Store, term string,
	set map[uint64]bool) ([]uint64, error) {

	refs, err := tx.OffChainRefs()
	if err != nil {
		return nil, err
	}

	type job struct {
		record *database.OffChainRecord
		number uint64
	}
	var undecidable []uint64
	jobs := make([]job, 0, len(refs))
	for idHex, number := range refs {
		if set[number] {
			continue
		}
		id, ok := database.ParseOffChainRef(database.OffChainRefPrefix + idHex)
		if !ok {
			undecidable = append(undecidable, number)
			continue
		}
		record, err := tx.OffChainRecordByContentID(id)
		if err != nil {
			log.Warnf("Off-chain record for block %d is missing: %v",
				number, err)
			undecidable = append(undecidable, number)
			continue
		}
		jobs = append(jobs, job{record: record, number: number})
	}

	needle := strings.ToLower(term)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, decryptWorkers)

	for _, j := range jobs {
		j := j
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			payload, err := blobs.Read(j.record)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warnf("Block %d is undecidable: %v", j.number, err)
				undecidable = append(undecidable, j.number)
				return
			}
			if strings.Contains(strings.ToLower(string(payload)), needle) {
				set[j.number] = true
			}
		}()
	}
	wg.Wait()
	return undecidable, nil
}
