package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

// ProjectRepository persists [models.Project] rows and their segments.
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new ProjectRepository with the given database connection
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `id, name, source_video_path, preview_video_path, duration, created_at, updated_at`

// Create inserts a new project with a generated ID. Any segments on the project are inserted with it.
func (r *ProjectRepository) Create(project *models.Project) error {
	project.ID = shared.GenerateID()
	if err := prepareSegments(project.ID, project.Segments); err != nil {
		return err
	}
	if err := project.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now

	return withTx(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO projects (`+projectColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			project.ID,
			project.Name,
			project.SourceVideoPath,
			project.PreviewVideoPath,
			project.Duration,
			project.CreatedAt,
			project.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", shared.ErrDuplicateSource, project.SourceVideoPath)
		}
		if err != nil {
			return fmt.Errorf("failed to insert project: %w", err)
		}
		return replaceSegments(tx, project.ID, project.Segments)
	})
}

// LoadProject retrieves a project and its segments by ID.
func (r *ProjectRepository) LoadProject(id string) (*models.Project, error) {
	project, err := r.scanOne(r.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	segments, err := r.segmentsFor(project.ID)
	if err != nil {
		return nil, err
	}
	project.Segments = segments
	return project, nil
}

// GetByPath retrieves the project bound to the given source video.
func (r *ProjectRepository) GetByPath(path string) (*models.Project, error) {
	project, err := r.scanOne(r.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE source_video_path = ?`, path))
	if err != nil {
		return nil, err
	}
	return r.LoadProject(project.ID)
}

// SaveProject updates the project row and replaces its segment list in one transaction.
func (r *ProjectRepository) SaveProject(project *models.Project) error {
	if err := prepareSegments(project.ID, project.Segments); err != nil {
		return err
	}
	if err := project.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	project.UpdatedAt = time.Now().UTC()

	return withTx(r.db, func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			UPDATE projects
			SET name = ?, preview_video_path = ?, duration = ?, updated_at = ?
			WHERE id = ?
		`,
			project.Name,
			project.PreviewVideoPath,
			project.Duration,
			project.UpdatedAt,
			project.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		if err := requireRow(result, project.ID); err != nil {
			return err
		}
		return replaceSegments(tx, project.ID, project.Segments)
	})
}

// UpdateSegments replaces the project's segment list and touches updated_at.
//
// Generated segment ids are written back to segments.
func (r *ProjectRepository) UpdateSegments(projectID string, segments []models.Segment) error {
	if err := prepareSegments(projectID, segments); err != nil {
		return err
	}

	return withTx(r.db, func(tx *sql.Tx) error {
		result, err := tx.Exec(`UPDATE projects SET updated_at = ? WHERE id = ?`, time.Now().UTC(), projectID)
		if err != nil {
			return fmt.Errorf("failed to touch project: %w", err)
		}
		if err := requireRow(result, projectID); err != nil {
			return err
		}
		return replaceSegments(tx, projectID, segments)
	})
}

// GetProjects lists every project, most recently updated first, with segments attached.
func (r *ProjectRepository) GetProjects() ([]*models.Project, error) {
	rows, err := r.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY updated_at DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	index := make(map[string]*models.Project)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
		index[project.ID] = project
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	segRows, err := r.db.Query(`SELECT ` + segmentColumns + ` FROM segments ORDER BY project_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer segRows.Close()

	for segRows.Next() {
		s, err := scanSegment(segRows)
		if err != nil {
			return nil, err
		}
		if p, ok := index[s.ProjectID]; ok {
			p.Segments = append(p.Segments, s)
		}
	}
	if err := segRows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return projects, nil
}

// CountSegments returns the number of segments currently stored for the project.
func (r *ProjectRepository) CountSegments(projectID string) (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM segments WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count segments: %w", err)
	}
	return n, nil
}

// Delete removes a project; its segments cascade.
func (r *ProjectRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return requireRow(result, id)
}

func (r *ProjectRepository) scanOne(row *sql.Row) (*models.Project, error) {
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrProjectNotFound
	}
	return project, err
}

func (r *ProjectRepository) segmentsFor(projectID string) ([]models.Segment, error) {
	rows, err := r.db.Query(`SELECT `+segmentColumns+` FROM segments WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	segments := []models.Segment{}
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return segments, nil
}

func scanProject(row scanner) (*models.Project, error) {
	p := &models.Project{Segments: []models.Segment{}}
	err := row.Scan(&p.ID, &p.Name, &p.SourceVideoPath, &p.PreviewVideoPath, &p.Duration, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	return p, nil
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrProjectNotFound, id)
	}
	return nil
}
