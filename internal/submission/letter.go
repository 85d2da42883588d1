package submission

import (
	"strings"
	"text/template"
)

const letterText = `Dear {{.Recipient}},

I am writing to you about {{.Topic}}.
{{- with .Message}}

{{.}}
{{- end}}

Thank you for your time and attention.

Sincerely,
{{if .Name}}{{.Name}}{{else}}A concerned constituent{{end}}
`

type letterTemplate struct {
	tmpl *template.Template
}

func mustLetterTemplate() *letterTemplate {
	return &letterTemplate{tmpl: template.Must(template.New("letter").Parse(letterText))}
}

func (l *letterTemplate) render(s Submission) (string, error) {
	var sb strings.Builder
	if err := l.tmpl.Execute(&sb, s); err != nil {
		return "", err
	}
	return sb.String(), nil
}
