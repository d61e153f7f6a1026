package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultSubjectTemplate = `[{{.KindLabel}}] {{.TagName}} is {{.Status}}`

const DefaultBodyTemplate = `Tag: {{.TagName}} (#{{.TagID}})
Status: {{.Status}}
{{- if .Value }}
Value: {{.Value}}
{{- end }}
{{- if .Description }}
Description: {{.Description}}
{{- end }}
{{- if .Expression }}
Condition: {{.Expression}}
{{- end }}
Time: {{.Time}}
{{- if .ChangedRules }}

Changed conditions:
{{- range .ChangedRules }}
  - {{.Name}} (#{{.TagID}}): {{.Status}}
{{- end }}
{{- end }}
{{- if .ChangedMetrics }}

Related readings:
{{- range .ChangedMetrics }}
  - {{.Name}} (#{{.TagID}}): {{.Value}}
{{- end }}
{{- end }}`

// ChildLine describes one child tag in a rendered report.
type ChildLine struct {
	TagID  int64
	Name   string
	Status string
	Value  string
}

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	TagID          int64
	TagName        string
	Kind           string
	KindLabel      string
	Status         string
	Value          string
	Description    string
	Expression     string
	Time           string
	ChangedRules   []ChildLine
	ChangedMetrics []ChildLine
}

// Template renders notification subject and body.
type Template struct {
	subject *template.Template
	body    *template.Template
}

// NewTemplate parses subject and body templates, falling back to the defaults
// for empty arguments.
func NewTemplate(subject, body string) (*Template, error) {
	if subject == "" {
		subject = DefaultSubjectTemplate
	}
	if body == "" {
		body = DefaultBodyTemplate
	}
	parsedSubject, err := template.New("notification-subject").Parse(subject)
	if err != nil {
		return nil, err
	}
	parsedBody, err := template.New("notification-body").Parse(body)
	if err != nil {
		return nil, err
	}
	return &Template{subject: parsedSubject, body: parsedBody}, nil
}

// Render applies both templates to data.
func (t *Template) Render(data TemplateData) (subject, body string, err error) {
	if t == nil || t.subject == nil || t.body == nil {
		return "", "", errors.New("notification template: nil")
	}
	var subjectBuf bytes.Buffer
	if err := t.subject.Execute(&subjectBuf, data); err != nil {
		return "", "", err
	}
	var bodyBuf bytes.Buffer
	if err := t.body.Execute(&bodyBuf, data); err != nil {
		return "", "", err
	}
	return subjectBuf.String(), bodyBuf.String(), nil
}
