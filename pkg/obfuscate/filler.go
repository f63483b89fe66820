package obfuscate

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode"
)

// RangeMapper substitutes runes from a source unicode range with random runes
// drawn from a target range. Mappers run before the built-in letter and digit
// rules, which lets deployments poison non-Latin scripts in kind (for example
// CJK ideographs replaced with other CJK ideographs).
type RangeMapper struct {
	SourceStart rune
	SourceEnd   rune
	TargetStart rune
	TargetEnd   rune
}

// ParseRangeMapper builds a mapper from hex code point boundaries.
func ParseRangeMapper(sourceStart, sourceEnd, targetStart, targetEnd string) (RangeMapper, error) {
	parse := func(field, value string) (rune, error) {
		n, err := strconv.ParseUint(value, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
		}
		return rune(n), nil
	}

	var m RangeMapper
	var err error
	if m.SourceStart, err = parse("source_start", sourceStart); err != nil {
		return m, err
	}
	if m.SourceEnd, err = parse("source_end", sourceEnd); err != nil {
		return m, err
	}
	if m.TargetStart, err = parse("target_start", targetStart); err != nil {
		return m, err
	}
	if m.TargetEnd, err = parse("target_end", targetEnd); err != nil {
		return m, err
	}
	if m.SourceEnd < m.SourceStart || m.TargetEnd < m.TargetStart {
		return m, fmt.Errorf("mapper ranges must be ascending")
	}
	return m, nil
}

// DefaultMappers covers the common CJK ideograph block, matching the behaviour
// the proxy ships with when no mappers are configured.
func DefaultMappers() []RangeMapper {
	return []RangeMapper{{
		SourceStart: 0x4e00, SourceEnd: 0x9fa5,
		TargetStart: 0x4e00, TargetEnd: 0x9fa5,
	}}
}

// Filler generates replacement text that keeps the length profile and
// word-boundary shape of the original while destroying its content. Each rune
// is substituted independently: mapper ranges first, then letters with random
// letters of the same case class and digits with random digits. Whitespace,
// punctuation and unmapped symbols pass through, so "Hello world" becomes
// something shaped like "Xkqce pdojgt".
type Filler struct {
	mappers []RangeMapper
}

// NewFiller builds a filler with the given mappers. Nil mappers fall back to
// DefaultMappers.
func NewFiller(mappers []RangeMapper) *Filler {
	if mappers == nil {
		mappers = DefaultMappers()
	}
	return &Filler{mappers: mappers}
}

// Fill rewrites every content-bearing rune of s. The result always has the
// same rune count as the input, and no alphanumeric rune survives in place.
func (f *Filler) Fill(s string) string {
	if s == "" {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(f.fillRune(r))
	}
	return b.String()
}

func (f *Filler) fillRune(r rune) rune {
	for _, m := range f.mappers {
		if r >= m.SourceStart && r <= m.SourceEnd {
			return randRuneNot(m.TargetStart, m.TargetEnd, r)
		}
	}

	switch {
	case r >= 'a' && r <= 'z':
		return randRuneNot('a', 'z', r)
	case r >= 'A' && r <= 'Z':
		return randRuneNot('A', 'Z', r)
	case r >= '0' && r <= '9':
		return randRuneNot('0', '9', r)
	case unicode.IsLetter(r):
		// Non-Latin letters outside any mapper range still get poisoned.
		if unicode.IsUpper(r) {
			return randRuneNot('A', 'Z', r)
		}
		return randRuneNot('a', 'z', r)
	default:
		return r
	}
}

// randRuneNot draws a random rune from [lo, hi] that differs from exclude
// whenever the range allows it, so replaced runes never survive verbatim.
func randRuneNot(lo, hi, exclude rune) rune {
	span := int(hi-lo) + 1
	if span <= 1 {
		return lo
	}
	r := lo + rune(rand.IntN(span))
	if r == exclude {
		r = lo + rune((int(r-lo)+1)%span)
	}
	return r
}

// randDigitNot returns a random decimal digit in [lo, '9'] differing from
// exclude. lo lets number rewriting keep leading digits non-zero.
func randDigitNot(lo byte, exclude byte) byte {
	return byte(randRuneNot(rune(lo), '9', rune(exclude)))
}
