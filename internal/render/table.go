// Package render prints analytics tables to the console.
package render

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/rowanbeckett/greekwatch/internal/engine"
)

var columns = []string{
	"DEAL", "INSTRUMENT", "DIR", "SIZE", "STRIKE", "RIGHT",
	"EXPIRY", "DTE", "IV", "DELTA", "THETA/DAY", "POS DELTA", "STATUS",
}

// Format renders one analytics table as console text.
func Format(table engine.AnalyticsTable) string {
	display := &strings.Builder{}

	if table.GeneratedAt.IsZero() {
		display.WriteString("no analytics yet\n")
		return display.String()
	}

	fmt.Fprintf(display, "cycle %s at %s\n", table.CycleID, table.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	tw := tablewriter.NewWriter(display)
	tw.SetHeader(columns)
	tw.SetBorder(false)
	tw.SetColumnSeparator("")
	tw.SetAutoWrapText(false)
	for _, row := range table.Rows {
		tw.Append(formatRow(row, table.GeneratedAt))
	}
	tw.Render()

	if len(table.Errors) > 0 {
		display.WriteString("\nfeed errors:\n")
		for _, e := range table.Errors {
			fmt.Fprintf(display, "  %s: %s (%s)\n", e.ContractID, e.Detail, e.Reason)
		}
	}

	if table.DroppedStale > 0 || table.IgnoredUnknown > 0 {
		fmt.Fprintf(display, "\ndropped stale quotes: %d, ignored unknown contracts: %d\n",
			table.DroppedStale, table.IgnoredUnknown)
	}

	return display.String()
}

func formatRow(row engine.Row, at time.Time) []string {
	c := row.Contract
	cells := []string{
		c.ID,
		c.InstrumentName,
		string(c.Direction),
		strconv.FormatFloat(c.Size, 'f', -1, 64),
		strconv.FormatFloat(c.Strike, 'f', -1, 64),
		strings.ToUpper(string(c.Right)),
		strings.ToUpper(c.Expiry.Format("2-Jan-06")),
		strconv.Itoa(c.DaysToExpiry(at)),
	}

	if !row.Result.Available {
		return append(cells, "N/A", "N/A", "N/A", "N/A", string(row.Result.Reason))
	}

	status := "ok"
	if row.Stale {
		status = "stale"
	}
	return append(cells,
		fmt.Sprintf("%.2f%%", row.Result.ImpliedVol*100),
		fmt.Sprintf("%.4f", row.Result.Delta),
		fmt.Sprintf("%.4f", row.Result.Theta),
		fmt.Sprintf("%+.4f", row.PositionDelta),
		status,
	)
}

// Printer writes each published table to one writer, typically stdout.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter builds a printer. A nil writer falls back to stdout.
func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	return &Printer{out: out}
}

// Print renders and writes the table. Its signature matches what the
// processor publishes on engine.TopicTableUpdated, so it can be
// subscribed to the event bus directly.
func (p *Printer) Print(table engine.AnalyticsTable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, Format(table))
}
