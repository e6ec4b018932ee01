package recon

import (
	"encoding/json"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/RowanDark/smartrecon/classify"
	"github.com/RowanDark/smartrecon/probe"
)

// Report is the result of one scan. The classification fields are inlined
// so the JSON form reads {domain, mode, timestamp, summary, allUrls, ...}.
type Report struct {
	Domain    string `json:"domain"`
	Mode      string `json:"mode"`
	Timestamp string `json:"timestamp"`
	classify.Report
	// Sources maps each URL to the component that produced it.
	Sources map[string]string `json:"sources,omitempty"`
	Probes  []probe.Result    `json:"probes,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Fingerprint hashes the report contents, ignoring the timestamp, so two
// scans producing the same findings share a fingerprint.
func (r *Report) Fingerprint() string {
	if r == nil {
		return ""
	}
	clone := *r
	clone.Timestamp = ""
	data, err := json.Marshal(clone)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(xxh3.Hash(data), 16)
}

// DiffResult lists high-value URLs that appeared or disappeared between two
// reports.
type DiffResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

func (d DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Diff compares the high-value URLs of previous and current. A nil previous
// report makes every current URL new.
func Diff(previous, current *Report) DiffResult {
	result := DiffResult{Added: []string{}, Removed: []string{}}

	before := make(map[string]struct{})
	if previous != nil {
		for _, u := range previous.HighValueURLs {
			before[u] = struct{}{}
		}
	}
	after := make(map[string]struct{})
	if current != nil {
		for _, u := range current.HighValueURLs {
			after[u] = struct{}{}
			if _, ok := before[u]; !ok {
				result.Added = append(result.Added, u)
			}
		}
	}
	if previous != nil {
		for _, u := range previous.HighValueURLs {
			if _, ok := after[u]; !ok {
				result.Removed = append(result.Removed, u)
			}
		}
	}
	return result
}
