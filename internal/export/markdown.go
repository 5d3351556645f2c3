package export

import (
	"fmt"
	"io"
	"strings"
)

// MarkdownExporter exports battles to Markdown format.
type MarkdownExporter struct{}

// Export writes the battle as Markdown.
func (e *MarkdownExporter) Export(tr *Transcript, w io.Writer) error {
	var sb strings.Builder

	// Title
	title := tr.Record.ID
	if tr.Subject != nil {
		title = tr.Subject.Title
	}
	sb.WriteString(fmt.Sprintf("# %s\n\n", title))

	// Metadata
	sb.WriteString("## Battle Information\n\n")
	sb.WriteString(fmt.Sprintf("- **ID:** `%s`\n", tr.Record.ID))
	sb.WriteString(fmt.Sprintf("- **Agree:** %s\n", tr.Record.Player1))
	sb.WriteString(fmt.Sprintf("- **Disagree:** %s\n", tr.Record.Player2))
	sb.WriteString(fmt.Sprintf("- **Winner:** %s\n", tr.Record.WinnerID))
	sb.WriteString(fmt.Sprintf("- **Played:** %s\n", tr.Record.CreatedAt.Format("January 2, 2006 at 3:04 PM")))
	sb.WriteString("\n")

	// Turns
	sb.WriteString("## Debate\n\n")
	if len(tr.Log) == 0 {
		sb.WriteString("*No turns recorded.*\n\n")
	} else {
		for i, entry := range tr.Log {
			side := "찬성"
			if tr.sideOf(entry.UserID) == "disagree" {
				side = "반대"
			}
			sb.WriteString(fmt.Sprintf("#### Turn %d · %s (%s)\n\n", i+1, side, entry.UserID))
			sb.WriteString(entry.Text)
			sb.WriteString("\n\n---\n\n")
		}
	}

	// Verdict
	sb.WriteString("## Verdict\n\n")
	sb.WriteString(fmt.Sprintf("- **Agree score:** %d\n", tr.Verdict.Agree.Score))
	if tr.Verdict.Agree.Good != "" {
		sb.WriteString(fmt.Sprintf("  - 잘한 점: %s\n", tr.Verdict.Agree.Good))
	}
	if tr.Verdict.Agree.Bad != "" {
		sb.WriteString(fmt.Sprintf("  - 아쉬운 점: %s\n", tr.Verdict.Agree.Bad))
	}
	sb.WriteString(fmt.Sprintf("- **Disagree score:** %d\n", tr.Verdict.Disagree.Score))
	if tr.Verdict.Disagree.Good != "" {
		sb.WriteString(fmt.Sprintf("  - 잘한 점: %s\n", tr.Verdict.Disagree.Good))
	}
	if tr.Verdict.Disagree.Bad != "" {
		sb.WriteString(fmt.Sprintf("  - 아쉬운 점: %s\n", tr.Verdict.Disagree.Bad))
	}
	sb.WriteString(fmt.Sprintf("- **Winner:** %s\n\n", tr.Verdict.WinnerUserID))

	// Footer
	sb.WriteString("---\n\n")
	sb.WriteString("*Exported from discussion-server*\n")

	_, err := w.Write([]byte(sb.String()))
	return err
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return "md"
}

// ContentType returns the MIME type.
func (e *MarkdownExporter) ContentType() string {
	return "text/markdown; charset=utf-8"
}
