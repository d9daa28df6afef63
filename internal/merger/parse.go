package merger

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Kind tags a ParsedValue. Structural parsing only distinguishes arrays,
// objects, numbers, and free text; content is never interpreted further.
type Kind int

const (
	KindText Kind = iota
	KindArray
	KindObject
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindNumber:
		return "number"
	default:
		return "text"
	}
}

// ParsedValue is the tagged variant produced by an explicit parse attempt.
type ParsedValue struct {
	Kind   Kind
	Array  []any
	Object map[string]any
	Number float64
	Text   string
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parseContent attempts structured interpretation of a response body:
// direct JSON, JSON inside a fenced code block, an embedded {...} or [...]
// substring, or a bare number. Anything else is text.
func parseContent(content string) ParsedValue {
	trimmed := strings.TrimSpace(content)

	if pv, ok := tryJSON(trimmed); ok {
		return pv
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if pv, ok := tryJSON(strings.TrimSpace(m[1])); ok {
			return pv
		}
	}

	if sub := extractDelimited(trimmed, '{', '}'); sub != "" {
		if pv, ok := tryJSON(sub); ok {
			return pv
		}
	}
	if sub := extractDelimited(trimmed, '[', ']'); sub != "" {
		if pv, ok := tryJSON(sub); ok {
			return pv
		}
	}

	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return ParsedValue{Kind: KindNumber, Number: n}
	}

	return ParsedValue{Kind: KindText, Text: content}
}

// tryJSON decodes a candidate string and classifies the result. JSON
// strings and booleans stay text: they carry no structure worth merging.
func tryJSON(s string) (ParsedValue, bool) {
	if s == "" {
		return ParsedValue{}, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ParsedValue{}, false
	}

	switch tv := v.(type) {
	case []any:
		return ParsedValue{Kind: KindArray, Array: normalizeNumbers(tv).([]any)}, true
	case map[string]any:
		return ParsedValue{Kind: KindObject, Object: normalizeNumbers(tv).(map[string]any)}, true
	case json.Number:
		n, err := tv.Float64()
		if err != nil {
			return ParsedValue{}, false
		}
		return ParsedValue{Kind: KindNumber, Number: n}, true
	default:
		return ParsedValue{}, false
	}
}

// normalizeNumbers converts json.Number leaves to float64 so canonical
// serialization and equality behave uniformly.
func normalizeNumbers(v any) any {
	switch tv := v.(type) {
	case json.Number:
		if f, err := tv.Float64(); err == nil {
			return f
		}
		return tv.String()
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = normalizeNumbers(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = normalizeNumbers(item)
		}
		return out
	default:
		return v
	}
}

// extractDelimited returns the first balanced open..close substring.
func extractDelimited(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// normalizeWhitespace collapses runs of whitespace to single spaces for
// agreement comparison.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// canonical serializes a value deterministically (encoding/json sorts map
// keys) for equality grouping and as a fallback item key.
func canonical(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
