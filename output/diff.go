package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/RowanDark/smartrecon/recon"
)

// LoadReports reads the reports stored by the JSON writer. Both
// newline-delimited objects and a single JSON array are accepted. Diff
// records written alongside reports are skipped.
func LoadReports(path string) ([]recon.Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	first, err := firstByte(reader)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(reader)
	var reports []recon.Report
	if first == '[' {
		if err := dec.Decode(&reports); err != nil {
			return nil, err
		}
		return onlyReports(reports), nil
	}
	for {
		var report recon.Report
		err := dec.Decode(&report)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return onlyReports(reports), nil
}

// firstByte peeks at the first non-whitespace byte without consuming it.
func firstByte(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			r.ReadByte()
		default:
			return b[0], nil
		}
	}
}

// onlyReports drops records without a mode, which are diff entries.
func onlyReports(records []recon.Report) []recon.Report {
	out := records[:0]
	for _, r := range records {
		if r.Mode != "" {
			out = append(out, r)
		}
	}
	return out
}

// LoadReport returns the most recent report for domain stored at path, or
// nil when the file holds none.
func LoadReport(path, domain string) (*recon.Report, error) {
	reports, err := LoadReports(path)
	if err != nil {
		return nil, err
	}
	domain = strings.TrimSpace(domain)
	for i := len(reports) - 1; i >= 0; i-- {
		if strings.EqualFold(reports[i].Domain, domain) {
			return &reports[i], nil
		}
	}
	return nil, nil
}
