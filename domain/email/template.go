package email

import (
	"embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/aymerick/raymond"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
)

//go:embed templates/*.hbs
var templateFS embed.FS

const (
	failureSubject = "Error Notification"
	reportSubject  = "Improved YouTube Titles for %s"
)

func init() {
	raymond.RegisterHelper("inc", func(i int) string {
		return strconv.Itoa(i + 1)
	})
}

// Rendered is a subject and plain-text body ready to send.
type Rendered struct {
	Subject string
	Text    string
}

// Templates renders the plain-text result and failure emails with Handlebars.
// Templates are parsed once and are safe for concurrent use.
type Templates struct {
	report  *raymond.Template
	failure *raymond.Template
}

// NewTemplates parses the embedded templates.
func NewTemplates() (*Templates, error) {
	report, err := parseTemplate("report")
	if err != nil {
		return nil, err
	}
	failure, err := parseTemplate("failure")
	if err != nil {
		return nil, err
	}
	return &Templates{report: report, failure: failure}, nil
}

func parseTemplate(name string) (*raymond.Template, error) {
	src, err := templateFS.ReadFile("templates/" + name + ".txt.hbs")
	if err != nil {
		return nil, fmt.Errorf("reading %s template: %w", name, err)
	}
	tpl, err := raymond.Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parsing %s template: %w", name, err)
	}
	return tpl, nil
}

// Report renders the improved-titles email for a channel.
func (t *Templates) Report(channelName string, titles []jobstore.TitleImprovement) (Rendered, error) {
	items := make([]map[string]string, len(titles))
	for i, ti := range titles {
		items[i] = map[string]string{
			"original":  ti.Original,
			"improved":  ti.Improved,
			"rationale": ti.Rationale,
			"url":       ti.URL,
		}
	}

	text, err := t.report.Exec(map[string]any{
		"channelName": channelName,
		"titles":      items,
	})
	if err != nil {
		return Rendered{}, fmt.Errorf("rendering report: %w", err)
	}

	return Rendered{
		Subject: fmt.Sprintf(reportSubject, channelName),
		Text:    text,
	}, nil
}

// Failure renders the generic failure notification. It does not vary by stage.
func (t *Templates) Failure() (Rendered, error) {
	text, err := t.failure.Exec(nil)
	if err != nil {
		return Rendered{}, fmt.Errorf("rendering failure notice: %w", err)
	}
	return Rendered{
		Subject: failureSubject,
		Text:    strings.TrimSpace(text),
	}, nil
}
