// Package templates provides embedded prompt templates.
package templates

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

// Prompts contains the embedded prompt template files sent to remote agent
// sessions.
//
//go:embed prompts/*.md
var Prompts embed.FS

// Render executes the named prompt template with the given data.
func Render(name string, data any) (string, error) {
	content, err := Prompts.ReadFile("prompts/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("load prompt template %s: %w", name, err)
	}

	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("parse prompt template %s: %w", name, err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt template %s: %w", name, err)
	}
	return buf.String(), nil
}
