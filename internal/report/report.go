// Package report renders allocator diagnostics as aligned text or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Bytes formats n as an IEC size ("1.0 MiB").
func Bytes(n uint64) string { return humanize.IBytes(n) }

// Percent returns part as a percentage of whole, 0 when whole is 0.
func Percent(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}

// Field is one labeled value in a section.
type Field struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Section is a titled group of fields.
type Section struct {
	Title  string  `json:"title"`
	Fields []Field `json:"fields"`
}

// Add appends a field and returns the section for chaining.
func (s *Section) Add(name string, value any) *Section {
	s.Fields = append(s.Fields, Field{Name: name, Value: value})
	return s
}

// Report is an ordered list of sections.
type Report struct {
	Title    string     `json:"title"`
	Sections []*Section `json:"sections"`
}

// New creates an empty report.
func New(title string) *Report {
	return &Report{Title: title}
}

// Section starts a new section.
func (r *Report) Section(title string) *Section {
	s := &Section{Title: title}
	r.Sections = append(r.Sections, s)
	return s
}

// WriteText renders the report with English digit grouping for integers.
func (r *Report) WriteText(w io.Writer) error {
	p := message.NewPrinter(language.English)

	width := 0
	for _, s := range r.Sections {
		for _, f := range s.Fields {
			width = max(width, len(f.Name))
		}
	}

	if _, err := p.Fprintf(w, "%s\n", r.Title); err != nil {
		return err
	}
	for _, s := range r.Sections {
		if _, err := p.Fprintf(w, "\n%s\n", s.Title); err != nil {
			return err
		}
		for _, f := range s.Fields {
			if _, err := p.Fprintf(w, "  %-*s : %s\n", width, f.Name, formatValue(p, f.Value)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func formatValue(p *message.Printer, v any) string {
	switch v := v.(type) {
	case int, int32, int64, uint, uint32, uint64:
		return p.Sprintf("%d", v)
	case float64:
		return p.Sprintf("%.2f", v)
	case string:
		return v
	}
	return fmt.Sprint(v)
}
