package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/dustin/go-humanize"
)

//go:embed templates/*.html
var templateFS embed.FS

type templates struct {
	index  *template.Template
	upload *template.Template
}

var templateFuncs = template.FuncMap{
	"bytes": humanize.IBytes,
}

func loadTemplates() (*templates, error) {
	index, err := template.New("index.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse index template: %w", err)
	}
	upload, err := template.New("upload.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/upload.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse upload template: %w", err)
	}
	return &templates{index: index, upload: upload}, nil
}

type expirationOption struct {
	Minutes uint64
	Label   string
}

// IndexHandler serves the upload form. The page only depends on
// configuration, so it is rendered once.
type IndexHandler struct {
	page []byte
}

// NewIndexHandler renders the upload form for the allowed expirations
func NewIndexHandler(allowedMinutes []uint64, maxBytes int64) (*IndexHandler, error) {
	t, err := loadTemplates()
	if err != nil {
		return nil, err
	}

	options := make([]expirationOption, 0, len(allowedMinutes))
	for _, m := range allowedMinutes {
		options = append(options, expirationOption{Minutes: m, Label: formatMinutes(m)})
	}

	var page bytes.Buffer
	err = t.index.Execute(&page, struct {
		Expirations []expirationOption
		MaxUpload   uint64
	}{options, uint64(maxBytes)})
	if err != nil {
		return nil, fmt.Errorf("failed to render index: %w", err)
	}
	return &IndexHandler{page: page.Bytes()}, nil
}

// ServeHTTP handles GET /
func (ih *IndexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ih.page)
}

// formatMinutes renders a duration in minutes using its largest whole unit
func formatMinutes(m uint64) string {
	switch {
	case m == 0:
		return "0 minutes"
	case m%(24*60) == 0:
		return plural(m/(24*60), "day")
	case m%60 == 0:
		return plural(m/60, "hour")
	default:
		return plural(m, "minute")
	}
}

func plural(n uint64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
