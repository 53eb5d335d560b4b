package notifier

import (
	"bytes"
	"embed"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds parsed email templates.
type Templates struct {
	html  *template.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	TenantID      string
	ServerID      string
	Headline      string
	Severity      string
	SeverityColor string
	GeneratedAt   string
	Summary       models.Summary
	Alerts        []AlertData
}

// AlertData is one alert row of an email.
type AlertData struct {
	Title         string
	Description   string
	Severity      string
	SeverityColor string
	Category      string
	Source        string
	Current       string
	Threshold     string
	Recommended   string
	Timestamp     string
}

// LoadTemplates loads embedded email templates.
func LoadTemplates() (*Templates, error) {
	funcs := template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	htmlTmpl, err := template.New("alert.html").Funcs(funcs).ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("alert.txt").Funcs(funcs).ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, err
	}

	return &Templates{
		html:  htmlTmpl,
		plain: plainTmpl,
	}, nil
}

// RenderHTML renders the HTML email body.
func (t *Templates) RenderHTML(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text email body.
func (t *Templates) RenderPlain(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// severityColor returns the color for a severity level.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d32f2f" // red
	case models.SeverityWarning:
		return "#f57c00" // orange
	case models.SeverityInfo:
		return "#1976d2" // blue
	default:
		return "#757575" // gray
	}
}

// BatchToTemplateData converts a batch to template data.
func BatchToTemplateData(b *Batch) TemplateData {
	top := b.HighestSeverity()
	data := TemplateData{
		TenantID:      b.TenantID,
		ServerID:      b.ServerID,
		Headline:      b.Headline(),
		Severity:      string(top),
		SeverityColor: severityColor(top),
		GeneratedAt:   b.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"),
		Summary:       b.Summary,
		Alerts:        make([]AlertData, 0, len(b.Alerts)),
	}

	for i := range b.Alerts {
		a := &b.Alerts[i]
		row := AlertData{
			Title:         a.Title,
			Description:   a.Description,
			Severity:      string(a.Severity),
			SeverityColor: severityColor(a.Severity),
			Category:      string(a.Category),
			Source:        sourceLabel(a),
			Current:       formatValue(a.Details.Current),
			Recommended:   a.Details.Recommended,
			Timestamp:     a.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		}
		if a.Details.Threshold != nil {
			row.Threshold = formatValue(*a.Details.Threshold)
		}
		data.Alerts = append(data.Alerts, row)
	}

	return data
}
