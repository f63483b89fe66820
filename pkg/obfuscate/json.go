package obfuscate

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

// JSON rewrites the scalar leaves of a JSON value while preserving its shape:
// object key sets, array lengths and value types survive; strings become
// filler of the same length profile and numbers are rewritten within their
// magnitude class.
type JSON struct {
	filler *Filler
}

// NewJSON builds a JSON obfuscator around the given filler.
func NewJSON(filler *Filler) *JSON {
	return &JSON{filler: filler}
}

// Obfuscate decodes body as a single JSON value and re-encodes it with
// poisoned scalars. Invalid input, including trailing garbage after the
// value, yields ErrParseFailed.
func (j *JSON) Obfuscate(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	// A well-formed payload is exactly one value.
	if err := dec.Decode(new(interface{})); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrParseFailed)
	}

	out, err := json.Marshal(j.obfuscateValue(value))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize JSON: %w", err)
	}
	return out, nil
}

func (j *JSON) obfuscateValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, nested := range v {
			v[key] = j.obfuscateValue(nested)
		}
		return v
	case []interface{}:
		for i, nested := range v {
			v[i] = j.obfuscateValue(nested)
		}
		return v
	case string:
		return j.filler.Fill(v)
	case json.Number:
		return json.Number(obfuscateNumberLiteral(string(v)))
	default:
		// Booleans and nulls keep no poisonable content.
		return v
	}
}

// obfuscateNumberLiteral randomizes the digits of a JSON number literal while
// keeping its sign, digit counts, decimal point and exponent, so the result
// stays in the same magnitude class and re-parses as a number. Malformed
// literals cannot occur here: the decoder has already validated them.
func obfuscateNumberLiteral(lit string) string {
	var b strings.Builder
	b.Grow(len(lit))

	// Leading integer digits must not start with zero unless the integer part
	// is exactly "0"; exponent digits have no such restriction.
	leadingInt := true
	first := true

	for i := 0; i < len(lit); i++ {
		c := lit[i]
		switch {
		case c >= '0' && c <= '9':
			if first && leadingInt {
				first = false
				if c == '0' {
					// A lone zero integer part stays zero to keep validity.
					b.WriteByte('0')
					continue
				}
				b.WriteByte(randDigitNot('1', c))
				continue
			}
			b.WriteByte(randDigitNot('0', c))
		case c == '.', c == 'e', c == 'E':
			leadingInt = false
			first = false
			b.WriteByte(c)
		default:
			// Sign characters.
			b.WriteByte(c)
		}
	}
	return b.String()
}
