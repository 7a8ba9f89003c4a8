// Package certify renders signature artifacts, computes their digest and
// writes the certificate record that makes them tamper-evident.
package certify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Renderer produces the artifact bytes for a document kind. Rendering must be
// deterministic: the same kind and data yield the same bytes, so a failed
// certification can be retried from the same inputs.
type Renderer interface {
	Render(kind string, data map[string]string) ([]byte, error)
}

var placeholderRE = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// documentTemplates holds the built-in artifact templates per document kind.
var documentTemplates = map[string]string{
	"signed_contract": "SIGNED CONTRACT\n" +
		"===============\n\n" +
		"Contract: {{contract_title}}\n" +
		"Contract ID: {{contract_id}}\n\n" +
		"Signed by: {{signer_name}} <{{signer_email}}>\n" +
		"Signed at: {{signed_at}}\n\n" +
		"Signature payload:\n{{signature_data}}\n",
	"decline_notice": "DECLINE NOTICE\n" +
		"==============\n\n" +
		"Contract: {{contract_title}}\n" +
		"Declined by: {{signer_name}} <{{signer_email}}>\n" +
		"Reason: {{reason}}\n",
}

// TemplateRenderer is the default deterministic placeholder renderer.
type TemplateRenderer struct{}

// NewTemplateRenderer creates the built-in renderer.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render substitutes {{key}} placeholders in the template for the given kind.
// Unknown placeholders render empty; output line endings are normalized so the
// bytes are stable across platforms.
func (r *TemplateRenderer) Render(kind string, data map[string]string) ([]byte, error) {
	tmpl, ok := documentTemplates[kind]
	if !ok {
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}

	rendered := placeholderRE.ReplaceAllStringFunc(tmpl, func(m string) string {
		match := placeholderRE.FindStringSubmatch(m)
		if len(match) != 2 {
			return ""
		}
		return data[match[1]]
	})

	return []byte(normalizeText(rendered)), nil
}

// normalizeText converts CRLF to LF, trims trailing space per line and
// guarantees a single trailing newline.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
}

// Kinds returns the known document kinds, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(documentTemplates))
	for k := range documentTemplates {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
