package testing

import (
	"fmt"
	"slices"
	"sync"

	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

// FakeStore is an in-memory project store.
type FakeStore struct {
	mu        sync.Mutex
	projects  map[string]*models.Project
	saveErr   error
	updateErr error
	countErr  error
	saves     int
	updates   int
	hook      func(method, projectID string)
}

func NewFakeStore(projects ...*models.Project) *FakeStore {
	s := &FakeStore{projects: make(map[string]*models.Project)}
	for _, p := range projects {
		s.projects[p.ID] = clone(p)
	}
	return s
}

// Fail sets the errors returned by SaveProject, UpdateSegments and CountSegments.
func (s *FakeStore) Fail(save, update, count error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr, s.updateErr, s.countErr = save, update, count
}

// Hook registers fn to run before SaveProject, UpdateSegments and CountSegments, outside the
// store's lock, with the method name and project id.
func (s *FakeStore) Hook(fn func(method, projectID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

func (s *FakeStore) call(method, projectID string) {
	s.mu.Lock()
	fn := s.hook
	s.mu.Unlock()
	if fn != nil {
		fn(method, projectID)
	}
}

// Writes returns how many SaveProject and UpdateSegments calls succeeded.
func (s *FakeStore) Writes() (saves, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves, s.updates
}

// Project returns a copy of the stored project, or nil.
func (s *FakeStore) Project(id string) *models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil
	}
	return clone(p)
}

func (s *FakeStore) LoadProject(id string) (*models.Project, error) {
	if p := s.Project(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrProjectNotFound, id)
}

func (s *FakeStore) SaveProject(project *models.Project) error {
	s.call("SaveProject", project.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.projects[project.ID] = clone(project)
	s.saves++
	return nil
}

func (s *FakeStore) UpdateSegments(projectID string, segments []models.Segment) error {
	s.call("UpdateSegments", projectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrProjectNotFound, projectID)
	}
	p.Segments = slices.Clone(segments)
	s.updates++
	return nil
}

func (s *FakeStore) Create(project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.SourceVideoPath == project.SourceVideoPath {
			return fmt.Errorf("%w: %s", shared.ErrDuplicateSource, project.SourceVideoPath)
		}
	}
	project.ID = shared.GenerateID()
	s.projects[project.ID] = clone(project)
	return nil
}

func (s *FakeStore) GetByPath(path string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.SourceVideoPath == path {
			return clone(p), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrProjectNotFound, path)
}

func (s *FakeStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("%w: %s", shared.ErrProjectNotFound, id)
	}
	delete(s.projects, id)
	return nil
}

func (s *FakeStore) GetProjects() ([]*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, clone(p))
	}
	slices.SortFunc(out, func(a, b *models.Project) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

func (s *FakeStore) CountSegments(projectID string) (int, error) {
	s.call("CountSegments", projectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	p, ok := s.projects[projectID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", shared.ErrProjectNotFound, projectID)
	}
	return len(p.Segments), nil
}

func clone(p *models.Project) *models.Project {
	c := *p
	c.Segments = slices.Clone(p.Segments)
	return &c
}
