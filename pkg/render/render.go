package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path"
	"strings"
)

// Template names understood by HTMLRenderer.
const (
	RedirectPage   = "redirect_page"
	TextEntryPage  = "text_entry_page"
	EportfolioPage = "eportfolio_page"
)

const templateExt = ".html.tmpl"

//go:embed templates/*.html.tmpl
var embedded embed.FS

// ErrUnknownTemplate is returned when Render is asked for a template that was not loaded.
var ErrUnknownTemplate = errors.New("unknown template")

// HTMLRenderer renders the synthetic pages placed into content archives.
type HTMLRenderer struct {
	templates map[string]*template.Template
}

// NewHTMLRenderer loads the built-in templates. Files in overrideDir with the
// same name replace the built-in ones.
func NewHTMLRenderer(overrideDir string) (*HTMLRenderer, error) {
	base, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}

	var override fs.FS
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("template dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("template dir %q is not a directory", dir)
		}
		override = os.DirFS(dir)
	}

	files, err := fs.Glob(base, "*"+templateExt)
	if err != nil {
		return nil, err
	}

	r := &HTMLRenderer{templates: make(map[string]*template.Template, len(files))}
	for _, file := range files {
		src := base
		if override != nil {
			if _, err := fs.Stat(override, file); err == nil {
				src = override
			}
		}
		name := strings.TrimSuffix(path.Base(file), templateExt)
		tmpl, err := template.New(file).ParseFS(src, file)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render executes the named template with data.
func (r *HTMLRenderer) Render(name string, data any) ([]byte, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
