package report

import (
	"encoding/json"
	"io"

	"github.com/Auditware/radar/internal/model"
)

type jsonReport struct {
	ID        string            `json:"id"`
	Status    model.ScanStatus  `json:"status"`
	Files     int               `json:"files"`
	Findings  []model.Finding   `json:"findings"`
	Errors    []model.ScanError `json:"errors"`
	Skipped   []string          `json:"skipped"`
	ElapsedMs int64             `json:"elapsedMs"`
}

func WriteJSON(w io.Writer, res *model.ScanResult) error {
	out := jsonReport{
		ID:        res.ID,
		Status:    res.Status,
		Files:     res.Files,
		Findings:  res.Findings,
		Errors:    res.Errors,
		Skipped:   res.Skipped,
		ElapsedMs: res.Elapsed.Milliseconds(),
	}
	if out.Findings == nil {
		out.Findings = []model.Finding{}
	}
	if out.Errors == nil {
		out.Errors = []model.ScanError{}
	}
	if out.Skipped == nil {
		out.Skipped = []string{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
