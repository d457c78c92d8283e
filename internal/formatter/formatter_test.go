package formatter

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

func testProject() *models.Project {
	return &models.Project{
		ID:              "p-42",
		Name:            "Vlog 12",
		SourceVideoPath: "/videos/vlog12.mp4",
		Duration:        754.2,
		Segments: []models.Segment{
			{
				ID:         "s1",
				ProjectID:  "p-42",
				MusicID:    "m1",
				MusicTitle: "Song One",
				StartTime:  12,
				EndTime:    47.5,
				Confidence: 0.92,
				Status:     models.SegmentDetected,
				Type:       models.SegmentMusic,
			},
			{
				ID:         "s2",
				ProjectID:  "p-42",
				StartTime:  61,
				EndTime:    64,
				Confidence: 0.81,
				Status:     models.SegmentRemoved,
				Type:       models.SegmentPerson,
			},
		},
	}
}

func TestExporters(t *testing.T) {
	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(testProject())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "ID,Type,Status,Start,End,Duration,Confidence,Music ID,Music Title") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "s1,music,detected,12.000,47.500,35.500,0.92,m1,Song One") {
			t.Errorf("CSV missing music segment row, got: %s", output)
		}
		if !strings.Contains(output, "s2,person,removed") {
			t.Errorf("CSV missing person segment row")
		}

		lines := strings.Split(strings.TrimSpace(output), "\n")
		if len(lines) != 3 {
			t.Errorf("expected 3 lines, got %d", len(lines))
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(testProject())
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# Vlog 12",
			"**Duration**: 12:34.2",
			"**Segments**: 2",
			"## Music",
			"## Persons",
			"1. 0:12.0 - 0:47.5 (35.5s) Song One @ 92%",
			"(removed)",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToMarkdown skips empty sections", func(t *testing.T) {
		p := testProject()
		p.Segments = p.Segments[:1]

		data, _ := ExportToMarkdown(p)
		if strings.Contains(string(data), "## Persons") {
			t.Error("expected no Persons section")
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(testProject())
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)
		if !strings.HasPrefix(output, "Project: Vlog 12\n") {
			t.Errorf("unexpected header: %s", output)
		}
		if !strings.Contains(output, "2. [person] 1:01.0 - 1:04.0 (3.0s) @ 81% (removed)") {
			t.Errorf("text missing person line, got:\n%s", output)
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(testProject())
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		var decoded models.Project
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded.Segments) != 2 || decoded.Segments[1].Type != models.SegmentPerson {
			t.Errorf("unexpected segments %+v", decoded.Segments)
		}
	})
}

func TestParseFormat(t *testing.T) {
	tc := []struct {
		in   string
		want Format
	}{
		{"csv", FormatCSV},
		{"md", FormatMarkdown},
		{"markdown", FormatMarkdown},
		{"txt", FormatText},
		{"text", FormatText},
		{"json", FormatJSON},
	}

	for _, tt := range tc {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if err != nil || got != tt.want {
				t.Errorf("ParseFormat(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		if _, err := ParseFormat("xlsx"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestWriteExport(t *testing.T) {
	t.Run("WithCustomPath", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "exports", "vlog.csv")

		got, err := WriteExport(testProject(), FormatCSV, path)
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if got != path {
			t.Errorf("expected %s, got %s", path, got)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read export: %v", err)
		}
		if !strings.Contains(string(data), "Song One") {
			t.Error("export missing segment data")
		}
	})

	t.Run("WithDefaultPath", func(t *testing.T) {
		t.Chdir(t.TempDir())

		got, err := WriteExport(testProject(), FormatText, "")
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if got != "p-42_segments.txt" {
			t.Errorf("unexpected default path %s", got)
		}
		if _, err := os.Stat(got); err != nil {
			t.Errorf("export not written: %v", err)
		}
	})
}

func TestMessages(t *testing.T) {
	tc := []struct {
		name string
		got  string
		want string
	}{
		{"progress", Progress(models.StageSeparating, 0.453), "Separating vocals: 45%"},
		{"queued has no percentage", Progress(models.StageQueued, 0), "Waiting for separator"},
		{"terminal", Progress(models.StageAnalyzed, 1), "Analyzed"},
		{"status active", Status(models.ProjectStatus{Stage: models.StageMatching, Progress: 0.31}), "Matching music: 31%"},
		{"status idle", Status(models.ProjectStatus{}), "Idle"},
		{"cached", Cached(models.StageExtracting), "Extracting audio: using cached result"},
		{"done plural", Done(3, models.SegmentMusic), "Found 3 music segments"},
		{"done singular", Done(1, models.SegmentPerson), "Found 1 person segment"},
		{"unknown stage", StageLabel(models.Stage(99)), "Unknown"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPercent(t *testing.T) {
	for p, want := range map[float64]int{-1: 0, 0: 0, 0.005: 1, 0.314: 31, 0.999: 100, 2: 100} {
		if got := Percent(p); got != want {
			t.Errorf("Percent(%v) = %d, want %d", p, got, want)
		}
	}
}
