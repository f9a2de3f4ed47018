// Package report prints the headless day-by-day simulation to a terminal.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"prophetic/internal/app"
	"prophetic/internal/model"
	"prophetic/internal/timeline"
)

// Printer renders sweep reports as tables.
type Printer struct {
	Out io.Writer
}

// New returns a Printer writing to out, or to color.Output when out is nil.
func New(out io.Writer) *Printer {
	if out == nil {
		out = color.Output
	}
	return &Printer{Out: out}
}

var (
	title   = color.New(color.Bold, color.Underline)
	faint   = color.New(color.Faint, color.Italic)
	bold    = color.New(color.Bold)
	warning = color.New(color.FgHiYellow)
	danger  = color.New(color.FgHiRed, color.Bold)
	ok      = color.New(color.FgGreen)
)

// Day prints one simulated day.
func (p *Printer) Day(rep app.SweepReport, st timeline.State) {
	_, _ = title.Fprintf(p.Out, "%s %s", st.Current.Weekday().String()[:3], rep.Date)
	_, _ = faint.Fprintf(p.Out, " (%s)\n", st.Mode)

	if len(rep.Pending) == 0 && len(rep.Alerts) == 0 {
		_, _ = faint.Fprint(p.Out, "  nothing due\n\n")
		return
	}

	if len(rep.Pending) > 0 {
		tbl := uitable.New()
		tbl.Separator = "  "
		tbl.MaxColWidth = 60
		tbl.AddRow(bold.Sprint("  Details needed"), bold.Sprint("In"), bold.Sprint("Ask"))
		for _, v := range rep.Pending {
			ask := v.Prompt
			if len(v.Questions) > 0 {
				ask = v.Questions[0].Prompt
			}
			tbl.AddRow("  "+v.Event.Name, fmt.Sprintf("%dd", v.DaysUntil), ask)
		}
		_, _ = fmt.Fprintln(p.Out, tbl)
	}

	if len(rep.Alerts) > 0 {
		tbl := uitable.New()
		tbl.Separator = "  "
		tbl.MaxColWidth = 70
		tbl.AddRow(bold.Sprint("  Alert"), bold.Sprint("Lead"), bold.Sprint("Findings"))
		for _, a := range rep.Alerts {
			tbl.AddRow("  "+a.Event.Name, fmt.Sprintf("%dd", a.Lead), findings(a))
		}
		_, _ = fmt.Fprintln(p.Out, tbl)
	}
	_, _ = fmt.Fprintln(p.Out)
}

func findings(a model.AlertRecord) string {
	switch {
	case a.Acknowledged:
		return faint.Sprint("acknowledged")
	case a.LocationMissing:
		return warning.Sprint("location unknown")
	case len(a.Findings) == 0:
		return ok.Sprint("no issues")
	}
	parts := make([]string, 0, len(a.Findings))
	for _, f := range a.Findings {
		c := warning
		if f.Severity == model.SeverityCritical {
			c = danger
		}
		parts = append(parts, c.Sprintf("[%s] %s", f.Category, f.Message))
	}
	return strings.Join(parts, "; ")
}

// Summary prints the closing session counters.
func (p *Printer) Summary(info app.SessionInfo) {
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.AddRow(bold.Sprint("Session"), info.Journal.SessionName)
	tbl.AddRow(bold.Sprint("Calendar"), info.CalendarSource)
	tbl.AddRow(bold.Sprint("Events"), info.EventCount)
	tbl.AddRow(bold.Sprint("Saved details"), info.SavedDetails)
	tbl.AddRow(bold.Sprint("LLM calls"), fmt.Sprintf("%d (%s)", info.Journal.LLMCalls, info.LLMMode))
	tbl.RightAlign(0)
	_, _ = fmt.Fprintln(p.Out, tbl)
}

// Simulator is the part of app.Service the simulation drives.
type Simulator interface {
	Timeline() timeline.State
	Sweep(ctx context.Context) (app.SweepReport, error)
	Advance(ctx context.Context, days int) (timeline.State, error)
}

// Simulate prints today and then each of the next days days, advancing the
// timeline one day at a time.
func Simulate(ctx context.Context, sim Simulator, days int, p *Printer) error {
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep, err := sim.Sweep(ctx)
		if err != nil {
			return err
		}
		p.Day(rep, sim.Timeline())
		if i >= days {
			return nil
		}
		if _, err := sim.Advance(ctx, 1); err != nil {
			return err
		}
	}
}
