package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Vital Alert {{.KindLabel}}]
Device: {{.Device}}
{{- if .Patient }}
Patient: {{.Patient}}
{{- end }}
Metric: {{.Metric}}
Value: {{.Value}}
Threshold: {{.Threshold}}
Time: {{.Time}}
Severity: {{.Severity}}
Suggestion: {{.Suggestion}}
`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Device     string
	DeviceID   int64
	Patient    string
	Kind       string
	KindLabel  string
	Metric     string
	Value      string
	Threshold  string
	Time       string
	Severity   string
	Suggestion string
	Message    string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("vital-alert").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
