package audit

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Export formats
const (
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"
	FormatCSV    = "csv"
)

// Filter selects events; zero fields match everything
type Filter struct {
	// Type matches an exact type or, ending in ".", a type prefix
	Type   string
	UserID string
	Kind   string
	Since  time.Time
	// Limit keeps the newest Limit events
	Limit int
}

// Match reports whether e passes the filter, ignoring Limit
func (f Filter) Match(e *Event) bool {
	if f.Type != "" {
		if strings.HasSuffix(f.Type, ".") {
			if !strings.HasPrefix(string(e.Type), f.Type) {
				return false
			}
		} else if string(e.Type) != f.Type {
			return false
		}
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// ReadDir reads the rotated files and the active file in dir, oldest event
// first. A missing directory yields no events.
func ReadDir(dir string, filter Filter) ([]*Event, error) {
	files, err := Rotated(dir)
	if err != nil {
		return nil, err
	}
	files = append(files, filepath.Join(dir, FileName))

	var events []*Event
	for _, path := range files {
		batch, err := ReadFile(path, filter)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}

	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[len(events)-filter.Limit:]
	}
	return events, nil
}

// ReadFile decodes one JSON-lines file
func ReadFile(path string, filter Filter) ([]*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if filter.Match(&e) {
			events = append(events, &e)
		}
	}
	return events, scanner.Err()
}

// Export writes events to w in format
func Export(w io.Writer, events []*Event, format string) error {
	switch format {
	case FormatJSON:
		if events == nil {
			events = []*Event{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case FormatNDJSON:
		enc := json.NewEncoder(w)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
		}
		return nil
	case FormatCSV:
		return exportCSV(w, events)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

var csvHeader = []string{
	"ID", "Timestamp", "Type", "Status", "UserID", "Email",
	"Kind", "TargetID", "Reason", "RequestID", "Message", "ErrorMessage",
}

func exportCSV(w io.Writer, events []*Event) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range events {
		row := []string{
			e.ID,
			e.Timestamp.Format(time.RFC3339),
			string(e.Type),
			string(e.Status),
			e.UserID,
			e.Email,
			e.Kind,
			e.TargetID,
			e.Reason,
			e.RequestID,
			e.Message,
			e.ErrorMessage,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
