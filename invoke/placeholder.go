package invoke

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_\-]+)(?::[^{}]*)?\}`)

// SubstitutePlaceholders replaces {key} and {key:pattern} segments of route
// with the string form of args[key]. Placeholders without a matching
// argument are left as they are.
func SubstitutePlaceholders(route string, args map[string]any) string {
	if len(args) == 0 {
		return route
	}
	return placeholderPattern.ReplaceAllStringFunc(route, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := args[key]
		if !ok {
			return m
		}
		return stringify(v)
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
