package template

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/sapliy/notification-hub/internal/tenant"
)

// RenderContext merges event-specific fields with the standard branding
// fields every template may reference.
func RenderContext(eventCtx map[string]any, branding *tenant.Branding) map[string]any {
	merged := make(map[string]any, len(eventCtx)+4)
	for k, v := range eventCtx {
		merged[k] = v
	}
	merged["company_name"] = branding.CompanyName
	merged["support_email"] = branding.SupportEmail
	merged["logo_url"] = branding.LogoURL
	merged["current_year"] = time.Now().Year()
	return merged
}

// RenderBody executes the template body as HTML with the given context.
func RenderBody(t *Template, ctx map[string]any) (string, error) {
	tmpl, err := htmltemplate.New(t.Name).Option("missingkey=zero").Parse(t.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", t.Name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", t.Name, err)
	}
	return buf.String(), nil
}

// RenderSubject renders the template subject, falling back to the provided
// default when the template carries none. Subjects are plain text.
func RenderSubject(t *Template, fallback string, ctx map[string]any) (string, error) {
	subject := t.Subject
	if subject == "" {
		subject = fallback
	}
	tmpl, err := texttemplate.New(t.Name + ":subject").Option("missingkey=zero").Parse(subject)
	if err != nil {
		return "", fmt.Errorf("failed to parse subject for %s: %w", t.Name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to render subject for %s: %w", t.Name, err)
	}
	return buf.String(), nil
}
