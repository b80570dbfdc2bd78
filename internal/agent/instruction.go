package agent

import (
	"fmt"
	"regexp"
)

// placeholderPattern matches {slot} and the optional form {slot?}.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(\?)?\}`)

// InjectState replaces slot placeholders in an instruction with values from
// session state. Optional placeholders resolve to the empty string when unset.
func InjectState(instruction string, state map[string]string) (string, error) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(instruction, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		if v, ok := state[sub[1]]; ok {
			return v
		}
		if sub[2] == "" && missing == "" {
			missing = sub[1]
		}
		return ""
	})
	if missing != "" {
		return "", fmt.Errorf("%w: %s", ErrMissingStateKey, missing)
	}
	return out, nil
}
