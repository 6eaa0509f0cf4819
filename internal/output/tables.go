package output

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/dokzlo13/zhmcctl/internal/ledger"
	"github.com/dokzlo13/zhmcctl/internal/partitions"
)

// newTable creates a new table with standard styling
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// PartitionsTable renders partitions as a table.
func PartitionsTable(w io.Writer, infos []partitions.Info) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Name", "CPC", "SE Version", "Status", "Unacceptable"})
	for _, p := range infos {
		t.AppendRow(table.Row{p.Name, p.CPCName, p.SEVersion, p.Status, yesNo(p.HasUnacceptableStatus)})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(infos)})
	t.Render()
}

// HistoryTable renders ledger entries as a table.
func HistoryTable(w io.Writer, entries []*ledger.Entry) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Time", "Run", "Module", "Target", "State", "Check", "Changed", "Result"})
	for _, e := range entries {
		result := "ok"
		if e.EventType == ledger.EventInvocationFailed {
			result = truncate(e.Message, 60)
		}
		t.AppendRow(table.Row{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			shortID(e.RunID),
			e.Module,
			e.Target,
			e.State,
			yesNo(e.CheckMode),
			yesNo(e.Changed),
			result,
		})
	}
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to n display columns. It never splits a rune.
func truncate(s string, n int) string {
	if text.RuneWidthWithoutEscSequences(s) <= n {
		return s
	}
	return text.Trim(s, n-3) + "..."
}
