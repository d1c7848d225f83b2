// Package report renders run results for people (ASCII and Markdown tables)
// and for machines (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"impactloop/internal/orchestrate"
	"impactloop/internal/store"
)

// Format selects the output encoding.
type Format string

const (
	ASCII    Format = "ascii"
	Markdown Format = "markdown"
	JSON     Format = "json"
)

// ParseFormat accepts the --format flag values.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case ASCII, Markdown, JSON:
		return f, nil
	case "":
		return ASCII, nil
	}
	return "", fmt.Errorf("unknown format %q (want ascii, markdown or json)", s)
}

func newTable(f Format) table.Writer {
	w := table.NewWriter()
	style := table.StyleDefault
	if f == ASCII {
		style = table.StyleLight
	}
	style.Format.Header = text.FormatDefault
	w.SetStyle(style)
	return w
}

func render(w table.Writer, f Format) string {
	if f == Markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

// Pct renders a return as a percentage with two decimals.
func Pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

// SignedPct is Pct with an explicit sign.
func SignedPct(v float64) string { return fmt.Sprintf("%+.2f%%", v*100) }

// Money renders a budget amount rounded to whole units.
func Money(v float64) string { return "$" + humanize.Comma(int64(math.Round(v))) }

// WriteRun renders the outcome reports followed by the run summary.
func WriteRun(out io.Writer, res *orchestrate.RunResult, f Format) error {
	if f == JSON {
		return writeJSON(out, struct {
			*orchestrate.RunResult
			Summary orchestrate.Summary `json:"summary"`
		}{res, res.Summary()})
	}

	if len(res.OutcomeReports) > 0 {
		tw := newTable(f)
		tw.AppendHeader(table.Row{"Initiative", "Model", "Confidence", "Predicted", "Actual", "Error", "Budget", "Samples"})
		for _, r := range res.OutcomeReports {
			tw.AppendRow(table.Row{
				r.InitiativeID,
				r.ModelType,
				fmt.Sprintf("%.2f", r.ConfidenceScore),
				Pct(r.PredictedReturn),
				Pct(r.ActualReturn),
				SignedPct(r.PredictionError),
				Money(r.BudgetAllocated),
				fmt.Sprintf("%d → %d", r.SampleSizePilot, r.SampleSizeScale),
			})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 3, Align: text.AlignRight},
			{Number: 4, Align: text.AlignRight},
			{Number: 5, Align: text.AlignRight},
			{Number: 6, Align: text.AlignRight},
			{Number: 7, Align: text.AlignRight},
		})
		tw.SetTitle("Outcome reports")
		if _, err := fmt.Fprintln(out, render(tw, f)); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out); err != nil {
			return err
		}
	}

	s := res.Summary()
	sw := newTable(f)
	sw.SetTitle("Summary")
	sw.AppendHeader(table.Row{"Metric", "Value"})
	sw.AppendRow(table.Row{"Initiatives evaluated", s.Evaluated})
	sw.AppendRow(table.Row{"Initiatives selected", s.Selected})
	if s.Selected > 0 {
		sw.AppendRow(table.Row{"Total budget used", Money(s.BudgetUsed)})
		sw.AppendRow(table.Row{"Avg prediction error", Pct(s.MeanAbsError)})
	}
	if _, err := fmt.Fprintln(out, render(sw, f)); err != nil {
		return err
	}
	if s.Selected == 0 {
		_, err := fmt.Fprintln(out, "No initiatives selected for scaling.")
		return err
	}
	return nil
}

// WriteHistory renders recorded runs, most recent first.
func WriteHistory(out io.Writer, runs []*store.Run, f Format) error {
	if f == JSON {
		type row struct {
			ID           string  `json:"run_id"`
			ConfigPath   string  `json:"config_path,omitempty"`
			CreatedAt    string  `json:"created_at"`
			Budget       float64 `json:"budget"`
			Evaluated    int     `json:"evaluated"`
			Selected     int     `json:"selected"`
			BudgetUsed   float64 `json:"budget_used"`
			MeanAbsError float64 `json:"mean_abs_error"`
		}
		rows := make([]row, len(runs))
		for i, r := range runs {
			rows[i] = row{r.ID, r.ConfigPath, r.CreatedAt, r.Budget, r.Evaluated, r.Selected, r.BudgetUsed, r.MeanAbsError}
		}
		return writeJSON(out, rows)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "No runs recorded.")
		return err
	}
	tw := newTable(f)
	tw.AppendHeader(table.Row{"Run", "Created", "Evaluated", "Selected", "Budget used", "Avg error"})
	for _, r := range runs {
		tw.AppendRow(table.Row{r.ID, r.CreatedAt, r.Evaluated, r.Selected, Money(r.BudgetUsed), Pct(r.MeanAbsError)})
	}
	_, err := fmt.Fprintln(out, render(tw, f))
	return err
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
