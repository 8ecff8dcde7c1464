// Package render provides Markdown-to-HTML conversion for the rendered-plan
// convenience endpoint. Grounded on the teacher's templateFuncs()["markdown"]
// helper, which wraps goldmark.Convert for use in html/template.
package render

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// Markdown converts source Markdown to an HTML fragment. Errors from
// goldmark are not expected for well-formed UTF-8 input and are surfaced as
// the empty string alongside the error.
func Markdown(source string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
