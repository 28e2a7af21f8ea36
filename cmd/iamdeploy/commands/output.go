package commands

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/openfroyo/iamdeploy/pkg/stores"
)

func newTable(w io.Writer, header ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row(header))
	return t
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func colorDispatchStatus(status stores.DispatchStatus) string {
	switch status {
	case stores.DispatchSucceeded:
		return text.FgGreen.Sprint(status)
	case stores.DispatchSkipped:
		return text.FgHiBlack.Sprint(status)
	case stores.DispatchDenied:
		return text.FgYellow.Sprint(status)
	default:
		return text.FgRed.Sprint(status)
	}
}

func colorRunStatus(status stores.RunStatus) string {
	switch status {
	case stores.RunStatusCompleted:
		return text.FgGreen.Sprint(status)
	case stores.RunStatusRunning:
		return text.FgCyan.Sprint(status)
	case stores.RunStatusCancelled:
		return text.FgYellow.Sprint(status)
	default:
		return text.FgRed.Sprint(status)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
