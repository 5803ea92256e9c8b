// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import "github.com/bassosimone/runtimex"

// Matcher detects a byte pattern in a stream fed one byte at a time.
//
// Feed returns true on the byte that completes the pattern; at that point
// the matcher has already reset itself and is ready to match again.
type Matcher interface {
	Feed(b byte) bool
	Pattern() []byte
	Reset()
}

// MatcherFactory builds a [Matcher] for the given pattern.
type MatcherFactory func(pattern []byte) Matcher

// PatternMatcher is the default [Matcher].
//
// On a mismatch the cursor goes back to zero and the mismatching byte is
// not tested again against the start of the pattern. This is exact for
// markers without internal self-overlap (e.g. "\x02", "ZCZC" followed by
// something other than "ZC") but may miss a match when a prefix of the
// pattern reappears inside it (e.g. "aab" in "aaab"). Use [KMPMatcher]
// when markers may overlap themselves.
type PatternMatcher struct {
	pattern []byte
	cursor  int
}

var _ Matcher = &PatternMatcher{}

// NewPatternMatcher returns a new [*PatternMatcher].
//
// The pattern must not be empty.
func NewPatternMatcher(pattern []byte) *PatternMatcher {
	runtimex.Assert(len(pattern) > 0)
	return &PatternMatcher{pattern: pattern}
}

// Feed implements [Matcher].
func (m *PatternMatcher) Feed(b byte) bool {
	if m.pattern[m.cursor] != b {
		m.cursor = 0
		return false
	}
	m.cursor++
	if m.cursor == len(m.pattern) {
		m.cursor = 0
		return true
	}
	return false
}

// Pattern implements [Matcher].
func (m *PatternMatcher) Pattern() []byte {
	return m.pattern
}

// Reset implements [Matcher].
func (m *PatternMatcher) Reset() {
	m.cursor = 0
}

// KMPMatcher is an overlap-aware [Matcher] based on the Knuth-Morris-Pratt
// partial match table.
//
// Unlike [PatternMatcher], after a completed match the cursor restarts
// from zero, so two matches never share bytes.
type KMPMatcher struct {
	pattern []byte
	table   []int
	cursor  int
}

var _ Matcher = &KMPMatcher{}

// NewKMPMatcher returns a new [*KMPMatcher].
//
// The pattern must not be empty.
func NewKMPMatcher(pattern []byte) *KMPMatcher {
	runtimex.Assert(len(pattern) > 0)
	table := make([]int, len(pattern))
	k := 0
	for i := 1; i < len(pattern); i++ {
		for k > 0 && pattern[i] != pattern[k] {
			k = table[k-1]
		}
		if pattern[i] == pattern[k] {
			k++
		}
		table[i] = k
	}
	return &KMPMatcher{pattern: pattern, table: table}
}

// Feed implements [Matcher].
func (m *KMPMatcher) Feed(b byte) bool {
	for m.cursor > 0 && m.pattern[m.cursor] != b {
		m.cursor = m.table[m.cursor-1]
	}
	if m.pattern[m.cursor] == b {
		m.cursor++
	}
	if m.cursor == len(m.pattern) {
		m.cursor = 0
		return true
	}
	return false
}

// Pattern implements [Matcher].
func (m *KMPMatcher) Pattern() []byte {
	return m.pattern
}

// Reset implements [Matcher].
func (m *KMPMatcher) Reset() {
	m.cursor = 0
}

func newDefaultMatcher(pattern []byte) Matcher {
	return NewPatternMatcher(pattern)
}
