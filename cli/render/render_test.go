package render

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
		{"invalid csv", "csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	_, err := ParseFormat("xml")
	if err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error message should mention valid formats, got: %v", err)
	}
}

func TestRenderer_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)

	if err := r.Render(map[string]string{"session_id": "abc"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, `"session_id": "abc"`) {
		t.Errorf("JSON output missing expected content: %s", got)
	}
}

func TestRenderer_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, false, &buf)

	if err := r.Render(map[string]string{"outcome": "success"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, "outcome: success") {
		t.Errorf("YAML output missing expected content: %s", got)
	}
}

func TestRenderer_Table_Struct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	type row struct {
		Session  string        `json:"session_id"`
		Chunks   int           `json:"total_chunks"`
		Error    string        `json:"error,omitempty"`
		Internal string        `json:"internal" table:"-"`
		Took     time.Duration `json:"took"`
		At       time.Time     `json:"at"`
	}

	data := row{
		Session:  "abc",
		Chunks:   3,
		Internal: "hidden",
		Took:     1500 * time.Millisecond,
		At:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := r.Render(&data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	for _, want := range []string{"session_id:", "abc", "total_chunks:", "3", "1.5s", "2026-03-01T09:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("table output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "error:") {
		t.Errorf("empty omitempty field should be hidden:\n%s", got)
	}
	if strings.Contains(got, "hidden") {
		t.Errorf("table:\"-\" field should be hidden:\n%s", got)
	}
}

func TestRenderer_Table_MapSorted(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	if err := r.Render(map[string]any{"tcp": 10, "dns": 2, "udp": 5}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	dns, tcp, udp := strings.Index(got, "dns"), strings.Index(got, "tcp"), strings.Index(got, "udp")
	if dns < 0 || !(dns < tcp && tcp < udp) {
		t.Errorf("map keys not sorted:\n%s", got)
	}
}

func TestRenderer_Table_Slice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	type packet struct {
		Src   string         `json:"source_ip"`
		Proto string         `json:"protocol"`
		Extra map[string]any `json:"additional_info,omitempty"`
	}
	data := []packet{
		{Src: "10.0.0.1", Proto: "TCP"},
		{Src: "10.0.0.2", Proto: "UDP", Extra: map[string]any{"port": 53}},
	}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	for _, want := range []string{"SOURCE_IP", "PROTOCOL", "10.0.0.1", "UDP", "{1 keys}"} {
		if !strings.Contains(got, want) {
			t.Errorf("table output missing %q:\n%s", want, got)
		}
	}
}

func TestRenderer_Table_EmptySlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	if err := r.Render([]string{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, "(no results)") {
		t.Errorf("empty slice should show '(no results)', got: %s", got)
	}
}

type sectioned struct {
	Head map[string]string
	Rows []map[string]string
}

func (s sectioned) TableSections() []Section {
	return []Section{
		{Title: "Session", Data: s.Head},
		{Title: "Packets", Data: s.Rows},
	}
}

func TestRenderer_Table_Sections(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	data := sectioned{
		Head: map[string]string{"outcome": "success"},
		Rows: []map[string]string{{"protocol": "TCP"}},
	}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	session, packets := strings.Index(got, "Session"), strings.Index(got, "Packets")
	if session < 0 || packets < session {
		t.Fatalf("sections out of order:\n%s", got)
	}
	if !strings.Contains(got, "outcome:") || !strings.Contains(got, "TCP") {
		t.Errorf("section content missing:\n%s", got)
	}
}

func TestRenderer_Sections_IgnoredByJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)

	if err := r.Render(sectioned{Head: map[string]string{"outcome": "success"}}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"Head"`) {
		t.Errorf("JSON missing Head:\n%s", buf.String())
	}
}

func TestRenderer_NoColor_DoesNotAffectJSON(t *testing.T) {
	var bufColor, bufNoColor bytes.Buffer

	data := map[string]string{"key": "value"}
	if err := NewRendererWithWriter(FormatJSON, false, &bufColor).Render(data); err != nil {
		t.Fatalf("Render with color failed: %v", err)
	}
	if err := NewRendererWithWriter(FormatJSON, true, &bufNoColor).Render(data); err != nil {
		t.Fatalf("Render without color failed: %v", err)
	}
	if bufColor.String() != bufNoColor.String() {
		t.Errorf("--no-color should not affect JSON output")
	}
}

func TestIsTTY_Buffer(t *testing.T) {
	if IsTTY(&bytes.Buffer{}) {
		t.Error("buffer is not a TTY")
	}
}
