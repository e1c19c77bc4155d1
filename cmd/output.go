package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sells-group/factcheck-cli/internal/jobs"
	"github.com/sells-group/factcheck-cli/internal/model"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatJobs writes a tabular list of batch jobs to w.
func formatJobs(out io.Writer, list []jobs.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tKIND\tSTATUS\tPROGRESS\tOK\tSKIPPED\tERRORS\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d (%.0f%%)\t%d\t%d\t%d\t%s\n",
			s.JobID, s.Kind, s.Status,
			s.Processed, s.Total, s.ProgressPercentage,
			s.Succeeded, s.Skipped, len(s.Errors),
			s.UpdatedAt.Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}

// formatStrategies writes a tabular list of strategy records to w.
func formatStrategies(out io.Writer, recs []model.StrategyRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tKIND\tACTIVE\tSHAPE\tNAME")
	for _, r := range recs {
		shape := string(r.OutputShape)
		if shape == "" {
			shape = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", r.Slug, r.Kind, r.Active, shape, r.Name)
	}
	_ = w.Flush()
}

// splitSlugs parses a comma-separated --slug value.
func splitSlugs(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
