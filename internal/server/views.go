package server

import (
	"bytes"
	"html/template"
	"time"

	"github.com/gofiber/fiber/v2"
)

var views = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"when": formatTime,
}).Parse(`{{define "widget"}}<section class="widget widget-{{.State}}" id="widget-{{.ID}}">
<h2>{{.Title}}</h2>
{{- if eq .State.String "failed"}}
<div class="widget-error" role="alert">
<p>{{.Error}}</p>
{{- if .NeedsReauth}}
<p class="reauth">Sign in to this service again, then retry.</p>
{{- end}}
<form method="post" action="/widgets/{{.ID}}/retry"><button type="submit">Retry</button></form>
</div>
{{- else if .Loading}}
<p class="loading">Loading…</p>
{{- else if not .Items}}
<p class="empty">Nothing to show.</p>
{{- else}}
<ul>
{{- range .Items}}
<li>{{if .URL}}<a href="{{.URL}}">{{.Title}}</a>{{else}}{{.Title}}{{end}}{{if .Summary}}<p>{{.Summary}}</p>{{end}}</li>
{{- end}}
</ul>
<p class="updated">Updated {{when .UpdatedAt}}</p>
{{- end}}
</section>{{end}}
{{define "page"}}<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<main>
{{- range .Widgets}}
{{template "widget" .}}
{{- end}}
</main>
</body>
</html>{{end}}`))

func renderHTML(c *fiber.Ctx, name string, data any) error {
	var buf bytes.Buffer
	if err := views.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC1123)
}
