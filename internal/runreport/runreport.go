// Package runreport derives per-record download status for a batch. Status is
// recomputed from the output directory, so it can run long after, and
// independently of, the download pass.
package runreport

import (
	"path/filepath"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

// Column is the metadata column that carries the download status.
const Column = "pdf_downloaded"

// Status values written to Column.
const (
	Yes = "Yes"
	No  = "No"
)

// Status is the binary download status of one record.
type Status struct {
	RecordID   string
	Downloaded bool
}

// Label renders the status as it appears in the metadata workbook.
func (s Status) Label() string {
	if s.Downloaded {
		return Yes
	}
	return No
}

// FromDirectory checks dir for a validator-passing {id}.pdf for each id, in
// the order given. Call it only after every worker has finished.
func FromDirectory(ids []string, dir string, v harvest.Validator) []Status {
	out := make([]Status, len(ids))
	for i, id := range ids {
		if !harvest.SafeID(id) {
			out[i] = Status{RecordID: id}
			continue
		}
		path := filepath.Join(dir, harvest.Record{ID: id}.FileName())
		out[i] = Status{RecordID: id, Downloaded: v.Valid(id, path)}
	}
	return out
}

// FromResults derives status from in-memory results. Ids with no result are
// reported as not downloaded.
func FromResults(ids []string, results []harvest.Result) []Status {
	byID := make(map[string]harvest.Outcome, len(results))
	for _, r := range results {
		byID[r.RecordID] = r.Outcome
	}
	out := make([]Status, len(ids))
	for i, id := range ids {
		out[i] = Status{RecordID: id, Downloaded: byID[id].Succeeded()}
	}
	return out
}

// Labels maps record id to its metadata label.
func Labels(statuses []Status) map[string]string {
	out := make(map[string]string, len(statuses))
	for _, s := range statuses {
		out[s.RecordID] = s.Label()
	}
	return out
}

// Summary tallies a run.
type Summary struct {
	Total         int
	Downloaded    int
	NotDownloaded int
	Direct        int
	Fallback      int
	Crashed       int
}

// Summarize counts results by outcome. Crashed counts failures that came from
// outside the acquisition paths.
func Summarize(results []harvest.Result) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		switch r.Outcome {
		case harvest.OutcomeDirect:
			s.Direct++
			s.Downloaded++
		case harvest.OutcomeFallback:
			s.Fallback++
			s.Downloaded++
		default:
			s.NotDownloaded++
			if r.Err != nil {
				s.Crashed++
			}
		}
	}
	return s
}
