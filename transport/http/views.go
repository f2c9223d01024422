package http

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Views parses the embedded page templates
func Views() *template.Template {
	return template.Must(template.ParseFS(templatesFS, "templates/*.html"))
}
