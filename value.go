package chronodb

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Comparison and arithmetic rules shared by the filter scan path and value
// expressions. Values never raise here; a semantic mismatch collapses to
// false (comparisons) or nil (arithmetic).

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// toFloat coerces the value to a float64. Non-numbers are parsed from their
// string form; failure is reported rather than defaulted.
func toFloat(v any) (float64, bool) {
	if isNumber(v) {
		return cast.ToFloat64(v), true
	}
	f, err := strconv.ParseFloat(cast.ToString(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// compareValues applies a comparison operator to two evaluated values.
func compareValues(l any, op string, r any) bool {
	switch op {
	case "contains":
		ls, ok := l.(string)
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(ls), strings.ToLower(cast.ToString(r)))
	case "like":
		ls, ok := l.(string)
		if !ok {
			return false
		}
		pattern, err := compileLikePattern(strings.ToLower(cast.ToString(r)))
		if err != nil {
			return false
		}
		return pattern.MatchString(strings.ToLower(ls))
	}
	if l == nil || r == nil {
		switch op {
		case "==", "=":
			return l == nil && r == nil
		case "!=":
			return !(l == nil && r == nil)
		}
		return false
	}
	if isNumber(l) || isNumber(r) {
		dl, lok := toFloat(l)
		dr, rok := toFloat(r)
		if !lok || !rok {
			return false
		}
		switch op {
		case "==", "=":
			return dl == dr
		case "!=":
			return dl != dr
		case ">":
			return dl > dr
		case ">=":
			return dl >= dr
		case "<":
			return dl < dr
		case "<=":
			return dl <= dr
		}
		return false
	}
	if cmp, ok := naturalCompare(l, r); ok {
		switch op {
		case "==", "=":
			return cmp == 0
		case "!=":
			return cmp != 0
		case ">":
			return cmp > 0
		case ">=":
			return cmp >= 0
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		}
		return false
	}
	switch op {
	case "==", "=":
		return reflect.DeepEqual(l, r)
	case "!=":
		return !reflect.DeepEqual(l, r)
	}
	return false
}

// naturalCompare orders two values of the same comparable scalar kind.
// Strings compare lexicographically, booleans false<true.
func naturalCompare(l, r any) (int, bool) {
	switch lv := l.(type) {
	case string:
		rv, ok := r.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(lv, rv), true
	case bool:
		rv, ok := r.(bool)
		if !ok {
			return 0, false
		}
		if lv == rv {
			return 0, true
		}
		if !lv {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// compileLikePattern converts a sql-style pattern to an anchored regexp:
// % matches any run of characters, _ matches one character, \ escapes the
// next character. Every regexp metacharacter in the input is escaped.
func compileLikePattern(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteByte('^')
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteByte('.')
		case '\\':
			if i+1 < len(runes) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(runes[i])))
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteByte('$')
	return regexp.Compile(sb.String())
}
