// Package export renders finished battles to portable formats.
package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Cardanoian/discussion-server/internal/core"
	"github.com/Cardanoian/discussion-server/internal/storage"
)

// Format represents an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
	FormatJSON     Format = "json"
)

// Transcript is a battle record with its JSON columns decoded.
type Transcript struct {
	Record  *storage.BattleRecord
	Subject *core.Subject
	Log     []core.DiscussionEntry
	Verdict core.Verdict
}

// BuildTranscript decodes a battle record's log and verdict.
func BuildTranscript(record *storage.BattleRecord, subject *core.Subject) (*Transcript, error) {
	tr := &Transcript{Record: record, Subject: subject}
	if err := json.Unmarshal([]byte(record.LogJSON), &tr.Log); err != nil {
		return nil, fmt.Errorf("failed to decode battle log: %w", err)
	}
	if err := json.Unmarshal([]byte(record.VerdictJSON), &tr.Verdict); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}
	return tr, nil
}

// sideOf labels a log entry's speaker.
func (tr *Transcript) sideOf(userID string) string {
	if userID == tr.Record.Player1 {
		return "agree"
	}
	return "disagree"
}

// Exporter defines the interface for exporting battles.
type Exporter interface {
	Export(tr *Transcript, w io.Writer) error
	FileExtension() string
	ContentType() string
}

// GetExporter returns an exporter for the given format.
func GetExporter(format Format) (Exporter, error) {
	switch format {
	case FormatMarkdown:
		return &MarkdownExporter{}, nil
	case FormatPDF:
		return &PDFExporter{}, nil
	case FormatJSON:
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// GenerateFilename creates a filename for the export.
func GenerateFilename(record *storage.BattleRecord, ext string) string {
	timestamp := record.CreatedAt.Format("20060102")
	return fmt.Sprintf("battle_%s_%s.%s", timestamp, record.ID, ext)
}
