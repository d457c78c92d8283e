// package formatter renders projects and segments for display and export (CSV, Markdown, plain text, JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

// ExportToCSV converts a project's segments to CSV format with columns: ID, Type, Status, Start, End, Duration, Confidence, Music ID, Music Title
func ExportToCSV(project *models.Project) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Type", "Status", "Start", "End", "Duration", "Confidence", "Music ID", "Music Title"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, s := range project.Segments {
		record := []string{
			s.ID,
			string(s.Type),
			string(s.Status),
			strconv.FormatFloat(s.StartTime, 'f', 3, 64),
			strconv.FormatFloat(s.EndTime, 'f', 3, 64),
			strconv.FormatFloat(s.Duration(), 'f', 3, 64),
			strconv.FormatFloat(s.Confidence, 'f', 2, 64),
			s.MusicID,
			s.MusicTitle,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a project to a Markdown report grouped by segment type
func ExportToMarkdown(project *models.Project) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("# %s\n\n", project.Name))
	buf.WriteString(fmt.Sprintf("**Source**: `%s`\n", project.SourceVideoPath))
	if project.Duration > 0 {
		buf.WriteString(fmt.Sprintf("**Duration**: %s\n", shared.FormatTimestamp(project.Duration)))
	}
	buf.WriteString(fmt.Sprintf("**Segments**: %d\n\n", len(project.Segments)))

	for _, section := range []struct {
		title string
		kind  models.SegmentType
	}{
		{"Music", models.SegmentMusic},
		{"Persons", models.SegmentPerson},
	} {
		if project.CountByType(section.kind) == 0 {
			continue
		}
		buf.WriteString(fmt.Sprintf("## %s\n\n", section.title))
		i := 0
		for _, s := range project.Segments {
			if s.Type != section.kind {
				continue
			}
			i++
			buf.WriteString(fmt.Sprintf("%d. %s%s\n", i, SegmentLine(s), removedSuffix(s)))
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToText converts a project to plain text format
func ExportToText(project *models.Project) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Project: %s\n", project.Name))
	buf.WriteString(fmt.Sprintf("Source: %s\n", project.SourceVideoPath))
	buf.WriteString(fmt.Sprintf("Segments: %d\n\n", len(project.Segments)))

	for i, s := range project.Segments {
		buf.WriteString(fmt.Sprintf("%d. [%s] %s%s\n", i+1, s.Type, SegmentLine(s), removedSuffix(s)))
	}

	return buf.Bytes(), nil
}

// ExportToJSON converts a project with its segments to indented JSON
func ExportToJSON(project *models.Project) ([]byte, error) {
	data, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project: %w", err)
	}
	return data, nil
}

// SegmentLine renders one segment as "start - end (duration) title @ confidence".
func SegmentLine(s models.Segment) string {
	line := fmt.Sprintf("%s - %s (%.1fs)", shared.FormatTimestamp(s.StartTime), shared.FormatTimestamp(s.EndTime), s.Duration())
	if s.MusicTitle != "" {
		line += " " + s.MusicTitle
	} else if s.MusicID != "" {
		line += " " + s.MusicID
	}
	return line + fmt.Sprintf(" @ %.0f%%", s.Confidence*100)
}

func removedSuffix(s models.Segment) string {
	if s.Status == models.SegmentRemoved {
		return " (removed)"
	}
	return ""
}

// Format names a supported export format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
	FormatJSON     Format = "json"
)

// ParseFormat validates a user-supplied export format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatMarkdown, FormatText, FormatJSON:
		return f, nil
	case "markdown":
		return FormatMarkdown, nil
	case "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
	}
}

// Export renders project in the given format.
func Export(project *models.Project, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return ExportToCSV(project)
	case FormatMarkdown:
		return ExportToMarkdown(project)
	case FormatText:
		return ExportToText(project)
	case FormatJSON:
		return ExportToJSON(project)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, f)
	}
}

// WriteExport writes the project export to path.
//
// Defaults to {project.ID}_segments.{format} as the filename.
func WriteExport(project *models.Project, f Format, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_segments.%s", project.ID, f)
	}

	data, err := Export(project, f)
	if err != nil {
		return "", err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}
