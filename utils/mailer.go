package utils

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"gopkg.in/gomail.v2"

	"lawsim/config"
)

// Mailer sends transactional mail. Tests swap in a recording fake.
type Mailer interface {
	SendInvitation(data InvitationEmail) error
}

type InvitationEmail struct {
	To          string
	CourseTitle string
	InviterName string
	Role        string
	AcceptLink  string
	ExpiresAt   time.Time
}

var emailTemplates = map[string]string{
	"invitation": `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: #2c3e50; border-bottom: 1px solid #eee; padding-bottom: 10px; }
        .button { display: inline-block; padding: 10px 20px; background-color: #3498db; color: white; text-decoration: none; border-radius: 4px; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h2>You have been invited to {{.CourseTitle}}</h2>
    </div>
    <p>{{.InviterName}} invited you to join <strong>{{.CourseTitle}}</strong> as a {{.Role}}.</p>
    <p style="text-align: center;">
        <a href="{{.AcceptLink}}" class="button">Accept invitation</a>
    </p>
    <p>Or copy and paste this link into your browser:<br>
    <small>{{.AcceptLink}}</small></p>
    <div class="footer">
        <p>This invitation expires on {{.ExpiresAt.Format "Jan 2, 2006 15:04 MST"}}.</p>
    </div>
</body>
</html>`,
}

// RenderTemplate executes one of the embedded mail templates
func RenderTemplate(name string, data interface{}) (string, error) {
	tmplContent, ok := emailTemplates[name]
	if !ok {
		return "", fmt.Errorf("template '%s' not found", name)
	}

	tmpl, err := template.New(name).Parse(tmplContent)
	if err != nil {
		return "", fmt.Errorf("error parsing template: %w", err)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return "", fmt.Errorf("error executing template: %w", err)
	}
	return body.String(), nil
}

// SMTPMailer delivers mail through gomail
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.FromEmail,
	}
}

func (m *SMTPMailer) SendInvitation(data InvitationEmail) error {
	subject := fmt.Sprintf("Invitation to %s", data.CourseTitle)
	body, err := RenderTemplate("invitation", struct {
		InvitationEmail
		Subject string
	}{data, subject})
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", data.To)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	return nil
}
