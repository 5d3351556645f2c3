package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Cardanoian/discussion-server/internal/core"
	"github.com/Cardanoian/discussion-server/internal/storage"
)

func testRecord() *storage.BattleRecord {
	return &storage.BattleRecord{
		ID:          "b1",
		Player1:     "agree-user",
		Player2:     "disagree-user",
		SubjectID:   "s1",
		WinnerID:    "agree-user",
		LogJSON:     `[{"userId":"agree-user","text":"A1","stage":1},{"userId":"disagree-user","text":"D1","stage":2}]`,
		VerdictJSON: `{"agree":{"score":80,"good":"논리적"},"disagree":{"score":70},"winnerUserId":"agree-user"}`,
		CreatedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testSubject() *core.Subject {
	return &core.Subject{ID: "s1", Title: "토론 주제", Body: "본문"}
}

func TestBuildTranscript(t *testing.T) {
	tr, err := BuildTranscript(testRecord(), testSubject())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(tr.Log) != 2 {
		t.Fatalf("want 2 log entries, got %d", len(tr.Log))
	}
	if tr.Verdict.Agree.Score != 80 || tr.Verdict.WinnerUserID != "agree-user" {
		t.Errorf("verdict mismatch: %+v", tr.Verdict)
	}
	if tr.sideOf("agree-user") != "agree" || tr.sideOf("disagree-user") != "disagree" {
		t.Error("side attribution wrong")
	}
}

func TestBuildTranscriptBadJSON(t *testing.T) {
	record := testRecord()
	record.LogJSON = "{broken"
	if _, err := BuildTranscript(record, nil); err == nil {
		t.Fatal("want error for broken log JSON")
	}
}

func TestGetExporter(t *testing.T) {
	tests := []struct {
		format  Format
		wantExt string
		wantErr bool
	}{
		{format: FormatMarkdown, wantExt: "md"},
		{format: FormatJSON, wantExt: "json"},
		{format: FormatPDF, wantExt: "pdf"},
		{format: Format("docx"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			e, err := GetExporter(tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if e.FileExtension() != tt.wantExt {
				t.Errorf("ext = %q, want %q", e.FileExtension(), tt.wantExt)
			}
		})
	}
}

func TestMarkdownExport(t *testing.T) {
	tr, err := BuildTranscript(testRecord(), testSubject())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	var buf bytes.Buffer
	if err := (&MarkdownExporter{}).Export(tr, &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"# 토론 주제", "A1", "D1", "**Winner:** agree-user", "**Agree score:** 80"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestJSONExportRoundTrips(t *testing.T) {
	tr, err := BuildTranscript(testRecord(), testSubject())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	var buf bytes.Buffer
	if err := (&JSONExporter{}).Export(tr, &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var doc jsonDocument
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if doc.WinnerID != "agree-user" || len(doc.Log) != 2 {
		t.Errorf("document mismatch: %+v", doc)
	}
	if doc.Log[0].Side != "agree" || doc.Log[1].Side != "disagree" {
		t.Errorf("side labels wrong: %+v", doc.Log)
	}
}

func TestPDFExportProducesDocument(t *testing.T) {
	tr, err := BuildTranscript(testRecord(), testSubject())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	var buf bytes.Buffer
	if err := (&PDFExporter{}).Export(tr, &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Error("output does not look like a PDF")
	}
}

func TestGenerateFilename(t *testing.T) {
	got := GenerateFilename(testRecord(), "md")
	if got != "battle_20260801_b1.md" {
		t.Errorf("filename = %q", got)
	}
}
