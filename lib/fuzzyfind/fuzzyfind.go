// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzyfind

import (
	"sort"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// Match is one candidate's fuzzy-match outcome against a query.
type Match struct {
	// Text is the original candidate string (a Looper name).
	Text string
	// Score is fzf's match score; higher is a better match. Zero means
	// the candidate does not contain pattern as a subsequence at all.
	Score int
}

// Find scores every candidate against pattern and returns the matches
// with a nonzero score, best match first. An empty pattern matches
// every candidate with score 0, preserving input order (the picker's
// "no filter typed yet" state).
func Find(pattern string, candidates []string) []Match {
	if pattern == "" {
		out := make([]Match, len(candidates))
		for i, c := range candidates {
			out[i] = Match{Text: c}
		}
		return out
	}

	runes := []rune(pattern)
	slab := util.MakeSlab(slabSize16, slabSize32)

	var out []Match
	for _, c := range candidates {
		chars := util.RunesToChars([]rune(c))
		result, _ := algo.FuzzyMatchV2(false, true, true, &chars, runes, false, slab)
		if result.Score <= 0 {
			continue
		}
		out = append(out, Match{Text: c, Score: result.Score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Slab sizes mirror fzf's own default terminal-query allocation slab,
// sized to avoid reallocating for typical Looper-name-length inputs.
const (
	slabSize16 = 1024
	slabSize32 = 2048
)
