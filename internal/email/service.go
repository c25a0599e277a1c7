package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// Service handles email composition and sending
type Service struct {
	sender      Sender
	fromAddress string
	fromName    string
	templates   map[string]*template.Template
}

// NewService creates a new email service
func NewService(sender Sender, fromAddress, fromName string) (*Service, error) {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list email templates: %w", err)
	}

	templates := make(map[string]*template.Template, len(names))
	for _, name := range names {
		tmpl, err := template.ParseFS(templateFS, name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse email template %s: %w", name, err)
		}
		templates[path.Base(name)] = tmpl
	}

	return &Service{
		sender:      sender,
		fromAddress: fromAddress,
		fromName:    fromName,
		templates:   templates,
	}, nil
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(ctx context.Context, data OrderConfirmationEmail) error {
	if data.Email == "" {
		return ErrNoRecipient
	}

	htmlBody, textBody, err := s.renderTemplate(data.TemplateName(), data)
	if err != nil {
		return fmt.Errorf("failed to render order confirmation template: %w", err)
	}

	email := &Email{
		To:       []string{data.Email},
		From:     s.from(),
		Subject:  data.Subject(),
		HTMLBody: htmlBody,
		TextBody: textBody,
		Headers:  map[string]string{"X-Order-Number": data.OrderNumber},
	}

	if _, err := s.sender.Send(ctx, email); err != nil {
		return fmt.Errorf("failed to send order confirmation email: %w", err)
	}

	return nil
}

func (s *Service) from() string {
	if s.fromName == "" {
		return s.fromAddress
	}
	return fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress)
}

// renderTemplate returns the HTML body and a plain text rendering of it.
func (s *Service) renderTemplate(templateName string, data interface{}) (string, string, error) {
	tmpl, ok := s.templates[templateName]
	if !ok {
		return "", "", fmt.Errorf("email template %s not found", templateName)
	}

	var htmlBuf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&htmlBuf, "email_layout", data); err != nil {
		return "", "", fmt.Errorf("failed to execute template %s: %w", templateName, err)
	}

	htmlBody := htmlBuf.String()
	return htmlBody, generatePlainText(htmlBody), nil
}

var plainTextBreaks = strings.NewReplacer(
	"<br>", "\n",
	"<br/>", "\n",
	"<br />", "\n",
	"</p>", "\n\n",
	"</div>", "\n",
	"</tr>", "\n",
	"</h1>", "\n\n",
	"</h2>", "\n\n",
)

var plainTextEntities = strings.NewReplacer(
	"&nbsp;", " ",
	"&times;", "x",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&#34;", "\"",
	"&#39;", "'",
)

// generatePlainText strips tags from rendered HTML for the text/plain part.
func generatePlainText(html string) string {
	text := plainTextBreaks.Replace(html)

	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	text = plainTextEntities.Replace(b.String())

	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
