package render

import (
	"fmt"
	"strings"

	"distill/internal/model"
)

// Markdown renders the article as a markdown document with a TLDR quote
// and a source attribution line.
func Markdown(art *model.Article, src model.Source) string {
	var lines []string

	lines = append(lines, "# "+art.Title)
	if art.Subtitle != "" {
		lines = append(lines, "\n*"+art.Subtitle+"*")
	}

	lines = append(lines, "\n> **TLDR:** "+art.Summary)

	meta := []string{fmt.Sprintf("Source: [%s](%s)", src.Title, src.URL)}
	if src.PublishedAt != nil {
		meta = append(meta, "Published: "+src.PublishedAt.Format("2006-01-02"))
	}
	lines = append(lines, "\n*"+strings.Join(meta, " | ")+"*")

	lines = append(lines, "")
	for _, section := range art.Sections {
		lines = append(lines, "## "+section.Heading)
		lines = append(lines, "\n"+section.Body)
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}
