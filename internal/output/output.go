package output

import (
	"fmt"
	"io"
	"os"

	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/notes"
)

// Writer writes a report in a specific format.
type Writer interface {
	Write(w io.Writer, report *notes.Report) error
}

// GetWriter returns a writer for the specified format.
func GetWriter(format string) (Writer, error) {
	switch format {
	case "text":
		return &TextWriter{}, nil
	case "json":
		return &JSONWriter{}, nil
	case "markdown", "md":
		return &MarkdownWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteReport writes the report to the specified output (file path or stdout).
func WriteReport(report *notes.Report, format, outPath string) (err error) {
	writer, err := GetWriter(format)
	if err != nil {
		return err
	}

	var w io.Writer
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("closing output file: %w", cerr)
			}
		}()
		w = f
	} else {
		w = os.Stdout
	}

	return writer.Write(w, report)
}

var surfaceTitles = map[evidence.Surface]string{
	evidence.SurfacePublicAPI: "Public API",
	evidence.SurfaceCLI:       "Command line",
	evidence.SurfaceConfig:    "Configuration",
	evidence.SurfaceInfra:     "Infrastructure",
	evidence.SurfaceDocs:      "Documentation",
	evidence.SurfaceTests:     "Tests",
	evidence.SurfaceInternal:  "Internal",
}

func surfaceTitle(s evidence.Surface) string {
	if t, ok := surfaceTitles[s]; ok {
		return t
	}
	return "Other"
}

// Short abbreviates a commit or content id.
func Short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}
