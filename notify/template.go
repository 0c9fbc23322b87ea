package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"math"
	texttemplate "text/template"
	"time"
)

// ResetSubject is the subject line of password-reset emails.
const ResetSubject = "Password Reset Code - Budget Tracker"

var resetHTML = htmltemplate.Must(htmltemplate.New("reset.html").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .code-box { border: 2px dashed #667eea; padding: 20px; text-align: center; margin: 20px 0; border-radius: 8px; }
    .code { font-size: 32px; font-weight: bold; color: #667eea; letter-spacing: 5px; }
    .warning { background: #fff3cd; border-left: 4px solid #ffc107; padding: 12px; margin: 20px 0; }
    .footer { text-align: center; margin-top: 20px; color: #666; font-size: 12px; }
  </style>
</head>
<body>
  <div class="container">
    <h1>Password Reset Request</h1>
    <p>Hello,</p>
    <p>We received a request to reset the password for your Budget Tracker account.</p>
    <div class="code-box">
      <p style="margin: 0; font-size: 14px; color: #666;">Your reset code is:</p>
      <div class="code">{{.Code}}</div>
    </div>
    <div class="warning">
      <strong>Security notice:</strong> This code will expire in {{.ExpiresIn}}. If you didn't request this reset, please ignore this email.
    </div>
    <p>Enter this code on the password reset page to continue.</p>
    <p>Best regards,<br>Budget Tracker Team</p>
    <div class="footer"><p>This is an automated email. Please do not reply.</p></div>
  </div>
</body>
</html>
`))

var resetText = texttemplate.Must(texttemplate.New("reset.txt").Parse(`Hello,

We received a request to reset the password for your Budget Tracker account.

Your reset code is: {{.Code}}

This code will expire in {{.ExpiresIn}}. If you didn't request this reset, please ignore this email.

Budget Tracker Team
`))

type resetData struct {
	Code      string
	ExpiresIn string
}

// ResetCodeMessage renders the password-reset email for code, valid for ttl.
func ResetCodeMessage(to, code string, ttl time.Duration) (Message, error) {
	data := resetData{Code: code, ExpiresIn: humanDuration(ttl)}

	var html, text bytes.Buffer
	if err := resetHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("rendering reset email: %w", err)
	}
	if err := resetText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("rendering reset email: %w", err)
	}
	return Message{
		To:      to,
		Subject: ResetSubject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

// humanDuration renders whole hours or minutes ("1 hour", "30 minutes").
func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return plural(int(d/time.Hour), "hour")
	}
	return plural(int(math.Ceil(d.Minutes())), "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
