package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

// Email is a rendered message ready for an SMTP envelope.
type Email struct {
	To      string
	Subject string
	HTML    string
}

const layout = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
{{template "content" .}}
<p style="color: #888; font-size: 12px;">This is an automated message, please do not reply.</p>
</body>
</html>`

const registrationContent = `{{define "content"}}
<h2>Welcome{{if .Name}}, {{.Name}}{{end}}!</h2>
<p>Your account has been created. You can now sign in with your email address or phone number.</p>
{{end}}`

const passwordResetContent = `{{define "content"}}
<h2>Reset your password</h2>
<p>We received a request to reset the password for {{.To}}.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>If you did not request this, you can ignore this email.</p>
{{end}}`

var subjects = map[Kind]string{
	KindRegistration:  "Welcome! Your account is ready",
	KindPasswordReset: "Password reset request",
}

type Templates struct {
	byKind map[Kind]*template.Template
}

func NewTemplates() (*Templates, error) {
	t := &Templates{byKind: make(map[Kind]*template.Template, len(subjects))}

	for kind, content := range map[Kind]string{
		KindRegistration:  registrationContent,
		KindPasswordReset: passwordResetContent,
	} {
		tpl, err := template.New(string(kind)).Parse(layout)
		if err != nil {
			return nil, fmt.Errorf("parse layout: %w", err)
		}
		if _, err := tpl.Parse(content); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		t.byKind[kind] = tpl
	}

	return t, nil
}

func (t *Templates) Render(msg Message) (Email, error) {
	tpl, ok := t.byKind[msg.Kind]
	if !ok {
		return Email{}, fmt.Errorf("no template for message kind %q", msg.Kind)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, msg); err != nil {
		return Email{}, fmt.Errorf("render %s: %w", msg.Kind, err)
	}

	return Email{To: msg.To, Subject: subjects[msg.Kind], HTML: buf.String()}, nil
}
