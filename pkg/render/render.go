// Package render produces notification content from embedded HTML templates.
// Rendering is pure: same template and variables, same output.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templatesFS embed.FS

type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Renderer{templates: templates}, nil
}

func (r *Renderer) Render(templateName string, vars map[string]string) (string, error) {
	var b strings.Builder
	if err := r.templates.ExecuteTemplate(&b, templateName+".html", vars); err != nil {
		return "", fmt.Errorf("render template %q: %w", templateName, err)
	}

	return b.String(), nil
}
