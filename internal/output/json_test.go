package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONWriter(t *testing.T) {
	report := sampleReport()
	report.RunID = "test-run"

	var buf bytes.Buffer
	w := &JSONWriter{}
	if err := w.Write(&buf, report); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if parsed["tool"] != "chronicle" {
		t.Errorf("tool = %v", parsed["tool"])
	}
	if parsed["runId"] != "test-run" {
		t.Errorf("runId = %v", parsed["runId"])
	}
	notes, ok := parsed["notes"].([]interface{})
	if !ok || len(notes) != 3 {
		t.Fatalf("notes = %v", parsed["notes"])
	}
	first := notes[0].(map[string]interface{})
	if first["surface"] != "public-api" || first["path"] != "pkg/client.go" {
		t.Errorf("first note = %v", first)
	}
	rng := parsed["range"].(map[string]interface{})
	if rng["spec"] != "v1.0..v1.1" {
		t.Errorf("range = %v", rng)
	}
	if _, ok := parsed["rounds"].(map[string]interface{})["stopReason"]; !ok {
		t.Error("rounds.stopReason missing")
	}
}

func TestJSONWriter_EmptyNotesIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONWriter{}).Write(&buf, emptyReport()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"notes": []`)) {
		t.Errorf("empty notes should encode as []:\n%s", buf.String())
	}
}

func TestWriteReport_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.json")
	if err := WriteReport(sampleReport(), "json", path); err != nil {
		t.Fatalf("WriteReport error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) {
		t.Error("file should contain valid JSON")
	}

	if err := WriteReport(sampleReport(), "yaml", path); err == nil {
		t.Error("unknown format should fail")
	}
}
