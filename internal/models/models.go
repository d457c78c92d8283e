// package models defines the data model for the processing coordinator
package models

import (
	"fmt"
	"slices"
	"time"
)

// SegmentStatus records whether a segment is kept in a video export. Removed segments are left out.
type SegmentStatus string

const (
	SegmentDetected SegmentStatus = "detected"
	SegmentRemoved  SegmentStatus = "removed"
)

// SegmentType distinguishes music matches from person detections.
type SegmentType string

const (
	SegmentMusic  SegmentType = "music"
	SegmentPerson SegmentType = "person"
)

// Segment is a detected time range within a project's source video.
type Segment struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"project_id"`
	MusicID    string        `json:"music_id,omitempty"`
	MusicTitle string        `json:"music_title,omitempty"`
	StartTime  float64       `json:"start_time"`
	EndTime    float64       `json:"end_time"`
	Confidence float64       `json:"confidence"`
	Status     SegmentStatus `json:"status"`
	Type       SegmentType   `json:"segment_type"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Validate checks the time range and enum fields.
func (s Segment) Validate() error {
	if s.EndTime < s.StartTime {
		return fmt.Errorf("segment %s ends before it starts", s.ID)
	}
	switch s.Status {
	case SegmentDetected, SegmentRemoved:
	default:
		return fmt.Errorf("segment %s has unknown status %q", s.ID, s.Status)
	}
	switch s.Type {
	case SegmentMusic, SegmentPerson:
	default:
		return fmt.Errorf("segment %s has unknown type %q", s.ID, s.Type)
	}
	return nil
}

// VideoExport describes one re-encode of a project's kept segments.
//
// Output is the target file, or a directory receiving one file per segment when Separate is set.
type VideoExport struct {
	ProjectID string
	VideoPath string
	Output    string
	Separate  bool
	Segments  []Segment
}

// Project is a unit of work bound to one source video.
type Project struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	SourceVideoPath  string    `json:"source_video_path"`
	PreviewVideoPath string    `json:"preview_video_path,omitempty"`
	Duration         float64   `json:"duration"`
	Segments         []Segment `json:"segments"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewProject creates a project for the video at path with timestamps set to now.
func NewProject(name, path string) *Project {
	now := time.Now().UTC()
	return &Project{
		Name:            name,
		SourceVideoPath: path,
		Segments:        []Segment{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Validate checks that required fields are present and all segments are well formed.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if p.SourceVideoPath == "" {
		return fmt.Errorf("project source video path is required")
	}
	for _, s := range p.Segments {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CountByType returns the number of segments of type t.
func (p *Project) CountByType(t SegmentType) int {
	n := 0
	for _, s := range p.Segments {
		if s.Type == t {
			n++
		}
	}
	return n
}

// ProcessingState is the full in-flight state of one project's work as shown by a view.
type ProcessingState struct {
	AudioPath         string
	VocalsPath        string
	AccompanimentPath string

	Processing         bool
	ProcessingMessage  string
	ProcessingProgress float64

	UseCustomMusicLibrary bool
	SelectedMusicIDs      []string

	DetectionProcessing bool
	DetectionProgress   float64
	DetectionMessage    string
}

// Clone returns a deep copy.
func (s ProcessingState) Clone() ProcessingState {
	s.SelectedMusicIDs = slices.Clone(s.SelectedMusicIDs)
	return s
}

// Busy reports whether either pipeline kind is running.
func (s ProcessingState) Busy() bool {
	return s.Processing || s.DetectionProcessing
}

// Equal reports field-wise equality, treating nil and empty id lists alike.
func (s ProcessingState) Equal(o ProcessingState) bool {
	return s.AudioPath == o.AudioPath &&
		s.VocalsPath == o.VocalsPath &&
		s.AccompanimentPath == o.AccompanimentPath &&
		s.Processing == o.Processing &&
		s.ProcessingMessage == o.ProcessingMessage &&
		s.ProcessingProgress == o.ProcessingProgress &&
		s.UseCustomMusicLibrary == o.UseCustomMusicLibrary &&
		slices.Equal(s.SelectedMusicIDs, o.SelectedMusicIDs) &&
		s.DetectionProcessing == o.DetectionProcessing &&
		s.DetectionProgress == o.DetectionProgress &&
		s.DetectionMessage == o.DetectionMessage
}

// MusicFilter restricts matching to a user-selected subset of the music library.
type MusicFilter struct {
	UseCustomLibrary bool
	MusicIDs         []string
}

// IDs returns the de-duplicated ids in first-seen order, or nil when the filter is off.
func (f *MusicFilter) IDs() []string {
	if f == nil || !f.UseCustomLibrary {
		return nil
	}
	seen := make(map[string]bool, len(f.MusicIDs))
	out := make([]string, 0, len(f.MusicIDs))
	for _, id := range f.MusicIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CacheStatus reports which previously produced artifacts are still valid for a project/input pair.
type CacheStatus struct {
	AudioValid        bool
	AudioPath         string
	SeparationValid   bool
	VocalsPath        string
	AccompanimentPath string
}

// Separation holds the outputs of vocal separation.
type Separation struct {
	VocalsPath        string
	AccompanimentPath string
}
