package export

import (
	"encoding/json"
	"io"

	"github.com/Cardanoian/discussion-server/internal/core"
)

// JSONExporter exports battles as a single JSON document.
type JSONExporter struct{}

type jsonDocument struct {
	ID        string                 `json:"id"`
	Subject   *core.Subject          `json:"subject,omitempty"`
	Player1   string                 `json:"player1"`
	Player2   string                 `json:"player2"`
	WinnerID  string                 `json:"winnerId"`
	CreatedAt string                 `json:"createdAt"`
	Log       []jsonLogEntry         `json:"log"`
	Verdict   core.Verdict           `json:"verdict"`
}

type jsonLogEntry struct {
	Side  string `json:"side"`
	User  string `json:"userId"`
	Stage int    `json:"stage"`
	Text  string `json:"text"`
}

// Export writes the battle as JSON.
func (e *JSONExporter) Export(tr *Transcript, w io.Writer) error {
	doc := jsonDocument{
		ID:        tr.Record.ID,
		Subject:   tr.Subject,
		Player1:   tr.Record.Player1,
		Player2:   tr.Record.Player2,
		WinnerID:  tr.Record.WinnerID,
		CreatedAt: tr.Record.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Verdict:   tr.Verdict,
		Log:       make([]jsonLogEntry, 0, len(tr.Log)),
	}
	for _, entry := range tr.Log {
		doc.Log = append(doc.Log, jsonLogEntry{
			Side:  tr.sideOf(entry.UserID),
			User:  entry.UserID,
			Stage: entry.Stage,
			Text:  entry.Text,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// FileExtension returns the file extension.
func (e *JSONExporter) FileExtension() string { return "json" }

// ContentType returns the MIME type.
func (e *JSONExporter) ContentType() string { return "application/json" }
