package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"distill/internal/model"
)

var htmlShell = template.Must(template.New("article").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body {
            max-width: 800px;
            margin: 0 auto;
            padding: 2rem;
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
            line-height: 1.6;
            color: #333;
        }
        h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
        h2 { color: #555; margin-top: 2rem; }
        blockquote {
            border-left: 4px solid #ddd;
            padding-left: 1rem;
            color: #666;
            margin: 1rem 0;
        }
        a { color: #0066cc; }
    </style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

var markdownConverter = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML renders the article as a standalone HTML page.
func HTML(art *model.Article, src model.Source) (string, error) {
	var body bytes.Buffer
	if err := markdownConverter.Convert([]byte(Markdown(art, src)), &body); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}

	lang := art.Language
	if lang == "" {
		lang = "en"
	}

	var out bytes.Buffer
	err := htmlShell.Execute(&out, struct {
		Lang  string
		Title string
		Body  template.HTML
	}{
		Lang:  lang,
		Title: art.Title,
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return out.String(), nil
}
