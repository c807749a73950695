// Package ussd renders dial-code templates like
// "*182*8*1*{merchant}*{amount}#" by substituting named placeholders.
// Payments themselves are dialed outside this pipeline; this is only the
// template utility.
package ussd

import (
	"fmt"
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes every {name} placeholder in the template with its
// value from vars. A placeholder with no matching variable is an error:
// dialing a half-rendered USSD code would silently send a broken payment
// request.
func Render(template string, vars map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(template, func(ph string) string {
		name := ph[1 : len(ph)-1]
		val, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return ph
		}
		return val
	})
	if missing != "" {
		return "", fmt.Errorf("ussd template references unknown variable '%s'", missing)
	}
	return out, nil
}
