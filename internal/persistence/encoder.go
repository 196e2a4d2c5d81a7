package persistence

import (
	"math"
	"strings"
	"unicode"
)

// zoneSymbols compresses committed zone names to single characters.
var zoneSymbols = map[string]string{
	"rest":     "R",
	"warmup":   "W",
	"fat_burn": "F",
	"cardio":   "C",
	"peak":     "P",
}

// NormalizeValue prepares one raw series value for encoding: beat and
// rotation counters keep one decimal place, other numerics become integers,
// and zone names collapse to single-character symbols. Nulls pass through.
func NormalizeValue(key string, v any) any {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if sym, ok := zoneSymbols[s]; ok {
			return sym
		}
		if s == "" {
			return nil
		}
		// unknown categorical value: first rune, uppercased
		r := []rune(s)
		return string(unicode.ToUpper(r[0]))
	}
	f, ok := numericValue(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if isCounterKey(key) {
		return math.Round(f*10) / 10
	}
	return int(math.Round(f))
}

func isCounterKey(key string) bool {
	return strings.HasSuffix(key, ":heart_beats_total") ||
		strings.HasSuffix(key, ":rotations_total") ||
		strings.HasSuffix(key, ":beats") ||
		strings.HasSuffix(key, ":rotations")
}

// EncodeSeries run-length encodes one series. A value is emitted bare; once
// it repeats, the remainder of the run becomes a single [value, count] pair:
// ten readings of 80 encode as [80, [80, 9]].
func EncodeSeries(values []any) []any {
	out := make([]any, 0, len(values))
	i := 0
	for i < len(values) {
		j := i
		for j+1 < len(values) && valueEqual(values[j+1], values[i]) {
			j++
		}
		out = append(out, values[i])
		if run := j - i + 1; run > 1 {
			out = append(out, []any{values[i], run - 1})
		}
		i = j + 1
	}
	return out
}

// DecodeSeries reverses EncodeSeries. DecodeSeries(EncodeSeries(x)) == x for
// any finite sequence of nulls and numbers.
func DecodeSeries(encoded []any) []any {
	out := make([]any, 0, len(encoded))
	for _, item := range encoded {
		if pair, ok := item.([]any); ok && len(pair) == 2 {
			count := 0
			if c, ok := numericValue(pair[1]); ok {
				count = int(c)
			}
			for k := 0; k < count; k++ {
				out = append(out, pair[0])
			}
			continue
		}
		out = append(out, item)
	}
	return out
}

// valueEqual compares series values for run detection: nils match nils,
// numerics compare by value across types, everything else by interface
// equality.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, aok := numericValue(a)
	fb, bok := numericValue(b)
	if aok && bok {
		return fa == fb
	}
	return a == b
}

// allNullOrZero reports whether a series carries no information worth
// persisting: empty, entirely null, or entirely zero.
func allNullOrZero(values []any) bool {
	for _, v := range values {
		if v == nil {
			continue
		}
		if f, ok := numericValue(v); ok {
			if f != 0 {
				return false
			}
			continue
		}
		// categorical values always count as information
		return false
	}
	return true
}
