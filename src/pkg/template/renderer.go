package template

import (
	"bytes"
	"os"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/pkg/errors"
)

// DefaultCommentTemplate renders "{body}: {report_url}"
const DefaultCommentTemplate = `{{.Body}}: {{.ReportURL}}`

// CommentData is the data available to comment templates
type CommentData struct {
	Body          string
	ReportURL     string
	ExecutionName string
	ExecutionFrom string
	ProjectID     string
}

// Renderer handles template rendering
type Renderer struct {
	funcMap template.FuncMap
}

// NewRenderer creates a new template renderer with the sprig functions
func NewRenderer() *Renderer {
	return &Renderer{
		funcMap: sprig.TxtFuncMap(),
	}
}

// RenderComment renders the PR comment body. tmpl may be empty (default
// template), a template string, or the path of a template file.
// The result must start with data.Body so later runs can find the comment.
func (r *Renderer) RenderComment(tmpl string, data CommentData) (string, error) {
	var (
		out string
		err error
	)
	switch {
	case tmpl == "":
		out, err = r.RenderString(DefaultCommentTemplate, data)
	case isFile(tmpl):
		out, err = r.Render(tmpl, data)
	default:
		out, err = r.RenderString(tmpl, data)
	}
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(out, data.Body) {
		return "", errors.Errorf("rendered comment must start with %q", data.Body)
	}
	return out, nil
}

// Render renders a template file with the provided data
func (r *Renderer) Render(templatePath string, data interface{}) (string, error) {
	content, err := os.ReadFile(templatePath)
	if err != nil {
		return "", errors.Wrap(err, "failed to read template")
	}

	return r.RenderString(string(content), data)
}

// RenderString renders a template string with the provided data
func (r *Renderer) RenderString(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("comment").Funcs(r.funcMap).Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse template")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "failed to execute template")
	}

	return buf.String(), nil
}

func isFile(path string) bool {
	if strings.Contains(path, "{{") {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
