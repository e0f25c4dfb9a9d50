package notify

import (
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"

	"github.com/armorclaw/crashreport/pkg/errors"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// Renderer turns a template ID and context into a message body
type Renderer interface {
	Render(templateID string, data map[string]any) (string, error)
}

// TemplateRenderer renders text/template templates with the sprig function map
type TemplateRenderer struct {
	tmpl *template.Template
}

// NewRenderer loads the embedded templates. Templates in overrideDir named
// like an embedded one replace it; other *.tmpl files there are added.
func NewRenderer(overrideDir string) (*TemplateRenderer, error) {
	tmpl, err := template.New("notify").Funcs(sprig.TxtFuncMap()).ParseFS(defaultTemplates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded templates: %w", err)
	}

	if overrideDir != "" {
		pattern := filepath.Join(overrideDir, "*.tmpl")
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid template dir %q: %w", overrideDir, err)
		}
		if len(matches) > 0 {
			if tmpl, err = tmpl.ParseFiles(matches...); err != nil {
				return nil, fmt.Errorf("failed to parse templates in %s: %w", overrideDir, err)
			}
		}
	}

	return &TemplateRenderer{tmpl: tmpl}, nil
}

// Render executes the named template
func (r *TemplateRenderer) Render(templateID string, data map[string]any) (string, error) {
	t := r.tmpl.Lookup(templateID)
	if t == nil {
		return "", errors.Newf(errors.CodeNotifyTemplate, "template %q not found", templateID)
	}

	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", errors.Wrapf(errors.CodeNotifyTemplate, err, "render %s", templateID)
	}
	return sb.String(), nil
}
