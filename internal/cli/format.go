package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/coral-mesh/coral-inspector/internal/frontend"
	"github.com/coral-mesh/coral-inspector/internal/inspector/heap"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// OutputFormat represents the output format type.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

func parseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatText, FormatJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unsupported format %q (want text or json)", s)
}

var (
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	debugStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	heapStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	methodStyle = lipgloss.NewStyle().
			Bold(true)
)

// EventFormatter renders observer traffic.
type EventFormatter interface {
	FormatEvent(ev frontend.Event) (string, error)
	FormatResult(method string, result json.RawMessage) (string, error)
}

// NewFormatter creates an output formatter for the given format.
func NewFormatter(format OutputFormat) EventFormatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{}
	default:
		return &TextFormatter{}
	}
}

// TextFormatter formats output as human-readable text.
type TextFormatter struct{}

// FormatEvent renders one event on one line.
func (f *TextFormatter) FormatEvent(ev frontend.Event) (string, error) {
	switch ev.Method {
	case protocol.MessageAdded{}.Method():
		p, err := frontend.DecodeParams[protocol.MessageAdded](ev)
		if err != nil {
			return "", err
		}
		return formatConsoleMessage(p.Message), nil

	case protocol.MessageRepeatCountUpdated{}.Method():
		p, err := frontend.DecodeParams[protocol.MessageRepeatCountUpdated](ev)
		if err != nil {
			return "", err
		}
		return debugStyle.Render(fmt.Sprintf("  (repeated %d times)", p.Count)), nil

	case protocol.MessagesCleared{}.Method():
		p, err := frontend.DecodeParams[protocol.MessagesCleared](ev)
		if err != nil {
			return "", err
		}
		return debugStyle.Render(fmt.Sprintf("console cleared (%s)", p.Reason)), nil

	case protocol.HeapSnapshotTaken{}.Method():
		p, err := frontend.DecodeParams[protocol.HeapSnapshotTaken](ev)
		if err != nil {
			return "", err
		}
		summary, err := summarizeSnapshot(p.SnapshotData)
		if err != nil {
			return "", err
		}
		return heapStyle.Render(fmt.Sprintf("heap snapshot %q: %s", p.Title, summary)), nil

	case protocol.GarbageCollected{}.Method():
		p, err := frontend.DecodeParams[protocol.GarbageCollected](ev)
		if err != nil {
			return "", err
		}
		gc := p.Collection
		if !gc.StartKnown() {
			return heapStyle.Render(fmt.Sprintf("gc %s ended at %.3fs (start not observed)", gc.Type, gc.EndTime)), nil
		}
		return heapStyle.Render(fmt.Sprintf("gc %s %.3fms", gc.Type, (gc.EndTime-gc.StartTime)*1000)), nil

	case protocol.TrackingStart{}.Method(), protocol.TrackingComplete{}.Method():
		p, err := frontend.DecodeParams[protocol.TrackingStart](ev)
		if err != nil {
			return "", err
		}
		summary, err := summarizeSnapshot(p.SnapshotData)
		if err != nil {
			return "", err
		}
		label := "tracking started"
		if ev.Method == (protocol.TrackingComplete{}).Method() {
			label = "tracking complete"
		}
		return heapStyle.Render(fmt.Sprintf("%s: %s", label, summary)), nil
	}

	return fmt.Sprintf("%s %s", methodStyle.Render(ev.Method), string(ev.Params)), nil
}

// FormatResult renders a command result.
func (f *TextFormatter) FormatResult(method string, result json.RawMessage) (string, error) {
	if len(result) == 0 || string(result) == "{}" || string(result) == "null" {
		return fmt.Sprintf("%s ok", methodStyle.Render(method)), nil
	}
	var v any
	if err := json.Unmarshal(result, &v); err != nil {
		return "", fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\n%s", methodStyle.Render(method), pretty), nil
}

func formatConsoleMessage(m protocol.ConsoleMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", m.Level, m.Source, m.Text)
	if m.URL != "" {
		fmt.Fprintf(&b, " (%s:%d:%d)", m.URL, m.Line, m.Column)
	}
	if m.RepeatCount > 1 {
		fmt.Fprintf(&b, " x%d", m.RepeatCount)
	}

	line := b.String()
	switch m.Level {
	case protocol.LevelError:
		return errorStyle.Render(line)
	case protocol.LevelWarning:
		return warnStyle.Render(line)
	case protocol.LevelDebug:
		return debugStyle.Render(line)
	}
	return line
}

func summarizeSnapshot(data protocol.HeapSnapshotData) (string, error) {
	snap, err := heap.Decode(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d objects, %d bytes", len(snap.Nodes), snap.TotalSize()), nil
}

// JSONFormatter formats output as one JSON document per line.
type JSONFormatter struct{}

func (f *JSONFormatter) FormatEvent(ev frontend.Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %w", err)
	}
	return string(data), nil
}

func (f *JSONFormatter) FormatResult(method string, result json.RawMessage) (string, error) {
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	data, err := json.Marshal(struct {
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
	}{method, result})
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
