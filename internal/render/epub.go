package render

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-shiori/go-epub"

	"distill/internal/model"
)

const epubCSS = `body { font-family: serif; line-height: 1.6; }
h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
h2 { color: #555; margin-top: 2rem; }
blockquote { border-left: 4px solid #ddd; padding-left: 1rem; color: #666; }
`

// EPUB renders the article as an EPUB file at path.
func EPUB(art *model.Article, src model.Source, path string) error {
	book, err := epub.NewEpub(art.Title)
	if err != nil {
		return fmt.Errorf("create epub: %w", err)
	}

	book.SetIdentifier(art.ContentID)
	book.SetAuthor(src.Title)
	lang := art.Language
	if lang == "" {
		lang = "en"
	}
	book.SetLang(lang)
	if art.Summary != "" {
		book.SetDescription(art.Summary)
	}

	cssPath, err := writeEpubCSS()
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(filepath.Dir(cssPath)) }()

	internalCSS, err := book.AddCSS(cssPath, "default.css")
	if err != nil {
		return fmt.Errorf("add css: %w", err)
	}

	content, err := HTML(art, src)
	if err != nil {
		return err
	}
	if _, err := book.AddSection(content, art.Title, "content.xhtml", internalCSS); err != nil {
		return fmt.Errorf("add section: %w", err)
	}

	if err := book.Write(path); err != nil {
		return fmt.Errorf("write epub: %w", err)
	}
	return nil
}

// writeEpubCSS stages the stylesheet in a temp file because the epub
// library only accepts CSS by path or URL.
func writeEpubCSS() (string, error) {
	dir, err := os.MkdirTemp("", "distill-epub-")
	if err != nil {
		return "", fmt.Errorf("stage css: %w", err)
	}
	path := filepath.Join(dir, "default.css")
	if err := os.WriteFile(path, []byte(epubCSS), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("stage css: %w", err)
	}
	return path, nil
}
