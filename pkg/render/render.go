// Package render renders message templates with Liquid. Subjects and bodies
// of send_message steps may reference recipient and automation variables,
// e.g. {{ first_name }} or {{ donation.amount }}.
package render

import (
	"fmt"

	"github.com/osteele/liquid"
)

// Template renders a Liquid template with the provided data
func Template(template string, data map[string]interface{}) (string, error) {
	if template == "" {
		return "", nil
	}

	engine := liquid.NewEngine()

	rendered, err := engine.ParseAndRenderString(template, data)
	if err != nil {
		return "", fmt.Errorf("liquid rendering failed: %w", err)
	}

	return rendered, nil
}
