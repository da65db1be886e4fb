package detector

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strictPolicy allows no elements at all. bluemonday policies are safe for
// concurrent use once built.
var strictPolicy = bluemonday.StrictPolicy()

// Sanitize strips all markup from input and returns its text content with
// '<', '>' and '&' left entity-escaped, so encoded markup in the input never
// comes back out as live markup. It is for input that is stored but was not
// classified as an outright attack.
func Sanitize(input string) string {
	if input == "" {
		return ""
	}
	if !strings.ContainsAny(input, "<>&") {
		return input
	}
	return strictPolicy.Sanitize(input)
}
