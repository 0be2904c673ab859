// Package report renders the duplicate-detection state as a single
// self-contained HTML page.
package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/harishkarthiktk/dupFinder/internal/dupes"
	"github.com/harishkarthiktk/dupFinder/internal/store"
)

//go:embed templates/report.html.tmpl
var templates embed.FS

var funcs = template.FuncMap{
	"bytes": func(n int64) string { return humanize.IBytes(uint64(n)) },
	"comma": func(n int) string { return humanize.Comma(int64(n)) },
	"short": func(h string) string {
		if len(h) > 12 {
			return h[:12]
		}
		return h
	},
}

var page = template.Must(template.New("report.html.tmpl").
	Funcs(funcs).
	ParseFS(templates, "templates/report.html.tmpl"))

// SizeBucket is one row of the size-category breakdown.
type SizeBucket struct {
	Label string
	Count int
	Bytes int64
}

var bucketLabels = [...]string{
	"empty",
	"tiny (<1 MiB)",
	"small (<10 MiB)",
	"medium (<100 MiB)",
	"large (<1 GiB)",
	"huge (>=1 GiB)",
}

func bucketFor(size int64) int {
	switch {
	case size == 0:
		return 0
	case size < 1<<20:
		return 1
	case size < 10<<20:
		return 2
	case size < 100<<20:
		return 3
	case size < 1<<30:
		return 4
	default:
		return 5
	}
}

// Data is everything the template needs. Build produces it with stable
// ordering so rendered output is deterministic for a given store state.
type Data struct {
	GeneratedAt time.Time
	Algorithm   string
	Stats       dupes.Stats
	Groups      []dupes.Group
	Buckets     []SizeBucket
}

// Build assembles Data from a full store enumeration.
func Build(records []store.FileRecord, algorithm string, generatedAt time.Time) Data {
	data := Data{
		GeneratedAt: generatedAt,
		Algorithm:   algorithm,
		Stats:       dupes.Summarize(records),
		Groups:      dupes.Groups(records),
	}
	buckets := make([]SizeBucket, len(bucketLabels))
	for i, label := range bucketLabels {
		buckets[i].Label = label
	}
	for i := range records {
		b := bucketFor(records[i].FileSize)
		buckets[b].Count++
		buckets[b].Bytes += records[i].FileSize
	}
	data.Buckets = buckets
	return data
}

// Write renders data as a standalone HTML page.
func Write(w io.Writer, data Data) error {
	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
