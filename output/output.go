// Package output renders scan reports for downstream tooling.
package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/RowanDark/smartrecon/config"
	"github.com/RowanDark/smartrecon/recon"
)

// CSV categories.
const (
	CategorySensitive = "sensitive_file"
	CategorySecret    = "secret"
	CategoryURL       = "url"
)

// Writer serialises reports to stdout or a file in a configured format.
type Writer struct {
	format        config.Format
	destination   io.Writer
	closer        io.Closer
	csvWriter     *csv.Writer
	csvHeaderSent bool
	encoder       *json.Encoder
	buffered      *bufio.Writer
	colour        bool
}

// NewWriter creates a writer configured according to the provided options.
func NewWriter(cfg *config.Config) (*Writer, error) {
	var (
		dest   io.Writer
		closer io.Closer
	)

	if cfg.LiveOutput() {
		dest = os.Stdout
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}

		file, err := os.Create(cfg.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("opening output file: %w", err)
		}
		dest = file
		closer = file
	}

	writer := newWriter(cfg.Format, dest, cfg.JSONPretty)
	writer.closer = closer
	writer.colour = cfg.LiveOutput() && !color.NoColor
	return writer, nil
}

// NewStreamWriter writes to w without colour and without taking ownership.
func NewStreamWriter(format config.Format, w io.Writer, pretty bool) *Writer {
	return newWriter(format, w, pretty)
}

func newWriter(format config.Format, dest io.Writer, pretty bool) *Writer {
	writer := &Writer{format: format}
	switch format {
	case config.FormatCSV:
		writer.csvWriter = csv.NewWriter(dest)
	case config.FormatTXT:
		writer.buffered = bufio.NewWriter(dest)
		dest = writer.buffered
	default:
		writer.format = config.FormatJSON
		writer.encoder = json.NewEncoder(dest)
		writer.encoder.SetEscapeHTML(false)
		if pretty {
			writer.encoder.SetIndent("", "  ")
		}
	}
	writer.destination = dest
	return writer
}

// WriteReport persists one report. JSON reports are written one per line,
// or indented when pretty printing is enabled.
func (w *Writer) WriteReport(report *recon.Report) error {
	if report == nil {
		return nil
	}
	switch w.format {
	case config.FormatJSON:
		return w.encoder.Encode(report)
	case config.FormatCSV:
		return w.writeCSVReport(report)
	case config.FormatTXT:
		return w.writeTXTReport(report)
	default:
		return fmt.Errorf("unsupported output format: %s", w.format)
	}
}

func (w *Writer) writeCSVReport(report *recon.Report) error {
	if w.csvWriter == nil {
		return fmt.Errorf("csv writer not initialised")
	}

	if !w.csvHeaderSent {
		if err := w.csvWriter.Write([]string{"category", "url", "detail"}); err != nil {
			return err
		}
		w.csvHeaderSent = true
	}

	for _, f := range report.SensitiveFiles {
		if err := w.csvWriter.Write([]string{CategorySensitive, f.URL, f.Extension}); err != nil {
			return err
		}
	}
	for _, s := range report.Secrets {
		if err := w.csvWriter.Write([]string{CategorySecret, s.URL, s.Type + ": " + strings.Join(s.Matches, ";")}); err != nil {
			return err
		}
	}
	for _, u := range report.AllURLs {
		if err := w.csvWriter.Write([]string{CategoryURL, u, report.Sources[u]}); err != nil {
			return err
		}
	}
	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

func (w *Writer) writeTXTReport(report *recon.Report) error {
	if w.destination == nil {
		return fmt.Errorf("txt writer not initialised")
	}

	heading := w.paint(color.FgCyan, color.Bold)
	red := w.paint(color.FgRed, color.Bold)
	yellow := w.paint(color.FgYellow)
	green := w.paint(color.FgGreen)

	var b strings.Builder
	heading.Fprintf(&b, "Domain: %s (%s)\n", report.Domain, report.Mode)
	fmt.Fprintf(&b, "Timestamp: %s\n", report.Timestamp)
	fmt.Fprintf(&b, "URLs: %d  Sensitive files: %d  Secrets: %d  High-value: %d\n",
		report.Summary.TotalURLs, report.Summary.SensitiveFiles, report.Summary.SecretsFound, report.Summary.HighValueURLs)

	if len(report.HighValueURLs) > 0 {
		heading.Fprintln(&b, "\nHigh-value URLs")
		for _, u := range report.HighValueURLs {
			red.Fprintf(&b, "  %s\n", u)
		}
	}
	if len(report.SensitiveFiles) > 0 {
		heading.Fprintln(&b, "\nSensitive files")
		for _, f := range report.SensitiveFiles {
			fmt.Fprintf(&b, "  [%s] ", f.Extension)
			yellow.Fprintln(&b, f.URL)
		}
	}
	if len(report.Secrets) > 0 {
		heading.Fprintln(&b, "\nSecrets")
		for _, s := range report.Secrets {
			fmt.Fprintf(&b, "  [%s] ", s.Type)
			red.Fprintln(&b, s.URL)
			fmt.Fprintf(&b, "      %s\n", strings.Join(s.Matches, ", "))
		}
	}
	if len(report.Probes) > 0 {
		heading.Fprintln(&b, "\nHTTP probes")
		for _, p := range report.Probes {
			if p.Error != "" {
				fmt.Fprintf(&b, "  %s  error: %s\n", p.URL, p.Error)
				continue
			}
			green.Fprintf(&b, "  %d ", p.StatusCode)
			fmt.Fprintln(&b, p.URL)
		}
	}
	if len(report.Errors) > 0 {
		heading.Fprintln(&b, "\nSource errors")
		keys := make([]string, 0, len(report.Errors))
		for key := range report.Errors {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", key, report.Errors[key])
		}
	}
	b.WriteString("\n")

	if _, err := io.WriteString(w.destination, b.String()); err != nil {
		return err
	}
	if w.buffered != nil {
		return w.buffered.Flush()
	}
	return nil
}

func (w *Writer) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if w.colour {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

// WriteDiff prints the changes against a baseline report.
func (w *Writer) WriteDiff(domain string, diff recon.DiffResult) error {
	switch w.format {
	case config.FormatJSON:
		return w.encoder.Encode(struct {
			Domain string `json:"domain"`
			recon.DiffResult
		}{domain, diff})
	case config.FormatCSV:
		for _, u := range diff.Added {
			if err := w.csvWriter.Write([]string{"added", u, domain}); err != nil {
				return err
			}
		}
		for _, u := range diff.Removed {
			if err := w.csvWriter.Write([]string{"removed", u, domain}); err != nil {
				return err
			}
		}
		w.csvWriter.Flush()
		return w.csvWriter.Error()
	default:
		green := w.paint(color.FgGreen)
		red := w.paint(color.FgRed)
		var b strings.Builder
		fmt.Fprintf(&b, "Changes for %s: %d new, %d removed\n", domain, len(diff.Added), len(diff.Removed))
		for _, u := range diff.Added {
			green.Fprintf(&b, "  + %s\n", u)
		}
		for _, u := range diff.Removed {
			red.Fprintf(&b, "  - %s\n", u)
		}
		if _, err := io.WriteString(w.destination, b.String()); err != nil {
			return err
		}
		if w.buffered != nil {
			return w.buffered.Flush()
		}
		return nil
	}
}

// Close flushes any buffered data and closes owned file handles.
func (w *Writer) Close() error {
	if w.csvWriter != nil {
		w.csvWriter.Flush()
		if err := w.csvWriter.Error(); err != nil {
			return err
		}
	}

	if w.buffered != nil {
		if err := w.buffered.Flush(); err != nil {
			return err
		}
	}

	if w.closer != nil {
		return w.closer.Close()
	}

	return nil
}
