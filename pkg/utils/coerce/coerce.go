package coerce

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ============================================================================
// SAFE COERCION HELPERS
// Each helper converts an untyped value (env strings, decoded JSON, Lua
// scalars) into the target type. Failures come back as errors, never panics.
// ============================================================================

// ToString converts input to a string. nil becomes "".
func ToString(input interface{}) string {
	if input == nil {
		return ""
	}
	s, err := cast.ToStringE(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return s
}

// ToInt converts input to int. Accepts numeric strings ("123") and whole floats.
func ToInt(input interface{}) (int, error) {
	if input == nil {
		return 0, nil
	}
	i, err := cast.ToIntE(input)
	if err != nil {
		return 0, fmt.Errorf("failed to coerce value '%v' (type %T) to int", input, input)
	}
	return i, nil
}

// ToBool understands true/false, 1/0 and their string forms.
func ToBool(input interface{}) (bool, error) {
	if input == nil {
		return false, nil
	}
	b, err := cast.ToBoolE(input)
	if err != nil {
		return false, fmt.Errorf("failed to coerce value '%v' (type %T) to bool", input, input)
	}
	return b, nil
}

// ToDuration accepts Go duration strings ("5s") and bare integers (nanoseconds).
func ToDuration(input interface{}) (time.Duration, error) {
	if input == nil {
		return 0, nil
	}
	d, err := cast.ToDurationE(input)
	if err != nil {
		return 0, fmt.Errorf("failed to coerce value '%v' (type %T) to duration", input, input)
	}
	return d, nil
}

// ToStringSlice splits comma separated strings; slices are converted element-wise.
func ToStringSlice(input interface{}) []string {
	if input == nil {
		return nil
	}
	if s, ok := input.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return cast.ToStringSlice(input)
}

// ToIntDef is ToInt with a fallback for empty or invalid input.
func ToIntDef(input interface{}, defaultVal int) int {
	if s, ok := input.(string); ok && strings.TrimSpace(s) == "" {
		return defaultVal
	}
	val, err := ToInt(input)
	if err != nil {
		return defaultVal
	}
	return val
}
