package repositories

import (
	"database/sql"
	"fmt"

	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

const segmentColumns = `id, project_id, music_id, music_title, start_time, end_time, confidence, status, segment_type`

// prepareSegments fills in missing ids, statuses and types, binds every segment to the project,
// and validates the result. Changes are written back to the slice.
func prepareSegments(projectID string, segments []models.Segment) error {
	for i := range segments {
		s := &segments[i]
		if s.ID == "" {
			s.ID = shared.GenerateID()
		}
		if s.Status == "" {
			s.Status = models.SegmentDetected
		}
		if s.Type == "" {
			s.Type = models.SegmentMusic
		}
		s.ProjectID = projectID

		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
	}
	return nil
}

// replaceSegments deletes every stored segment of the project and inserts segments in order.
func replaceSegments(tx *sql.Tx, projectID string, segments []models.Segment) error {
	if _, err := tx.Exec(`DELETE FROM segments WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to clear segments: %w", err)
	}

	if len(segments) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO segments (id, project_id, position, music_id, music_title, start_time, end_time, confidence, status, segment_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for i, s := range segments {
		if _, err := stmt.Exec(s.ID, projectID, i, s.MusicID, s.MusicTitle, s.StartTime, s.EndTime, s.Confidence, string(s.Status), string(s.Type)); err != nil {
			return fmt.Errorf("failed to insert segment %d: %w", i, err)
		}
	}
	return nil
}

func scanSegment(row scanner) (models.Segment, error) {
	var (
		s       models.Segment
		status  string
		segType string
	)
	if err := row.Scan(&s.ID, &s.ProjectID, &s.MusicID, &s.MusicTitle, &s.StartTime, &s.EndTime, &s.Confidence, &status, &segType); err != nil {
		return s, fmt.Errorf("failed to scan segment: %w", err)
	}
	s.Status = models.SegmentStatus(status)
	s.Type = models.SegmentType(segType)
	return s, nil
}
