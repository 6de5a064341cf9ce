package tutor

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

//go:embed content/*.json
var contentFS embed.FS

// Sentinel errors for content lookups. Callers translate these into
// not-found tool results rather than protocol faults.
var (
	ErrCourseNotFound = errors.New("course not found")
	ErrLessonNotFound = errors.New("lesson not found")
)

// Store supplies immutable course records by validated id. Each course
// document is parsed once and memoized for the process lifetime. The store
// is an explicit, single-owner cache instance: construct one per process
// and pass it to whoever needs content, instead of reaching for ambient
// package state.
type Store struct {
	mu      sync.Mutex
	courses map[string]*Course

	// ids holds the known-identifier catalog, fixed at construction.
	ids map[string]struct{}
}

// NewStore builds a store over the embedded content directory. The catalog
// of known course ids is derived from the directory listing; course bodies
// are parsed lazily on first use.
func NewStore() (*Store, error) {
	entries, err := fs.ReadDir(contentFS, "content")
	if err != nil {
		return nil, fmt.Errorf("failed to read content directory: %w", err)
	}

	ids := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids[strings.TrimSuffix(name, ".json")] = struct{}{}
	}
	if len(ids) == 0 {
		return nil, errors.New("no course documents embedded")
	}

	return &Store{
		courses: make(map[string]*Course, len(ids)),
		ids:     ids,
	}, nil
}

// Has reports whether id is in the known-course catalog.
func (s *Store) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// GetCourse returns the course record for id. The returned record is
// shared and must be treated as read-only.
func (s *Store) GetCourse(id string) (*Course, error) {
	if !s.Has(id) {
		return nil, fmt.Errorf("%w: %s", ErrCourseNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.courses[id]; ok {
		return c, nil
	}

	data, err := contentFS.ReadFile(path.Join("content", id+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read course %s: %w", id, err)
	}

	var course Course
	if err := json.Unmarshal(data, &course); err != nil {
		return nil, fmt.Errorf("failed to parse course %s: %w", id, err)
	}

	s.courses[id] = &course
	return &course, nil
}

// GetLessons returns the ordered lessons of a course.
func (s *Store) GetLessons(courseID string) ([]Lesson, error) {
	course, err := s.GetCourse(courseID)
	if err != nil {
		return nil, err
	}
	return course.Lessons, nil
}

// Summaries returns the listing view of every known course, ordered by id.
func (s *Store) Summaries() ([]CourseSummary, error) {
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	summaries := make([]CourseSummary, 0, len(ids))
	for _, id := range ids {
		course, err := s.GetCourse(id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, CourseSummary{
			ID:          course.ID,
			Title:       course.Title,
			Description: course.Description,
			LessonCount: len(course.Lessons),
		})
	}
	return summaries, nil
}
