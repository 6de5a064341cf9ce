package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lessonlab/codecamp"
)

// Server teaches programming over the Model Context Protocol. It exposes
// the embedded course catalog as read-only tools plus a catalog resource,
// and grades code submissions with the guided validation engine.
//
// It implements both the codecamp.ToolServer and codecamp.ResourceServer
// interfaces. All state lives in the content store and is immutable after
// construction, so every method is safe for concurrent use.
type Server struct {
	store     *Store
	validator *validator
}

// ServerOption configures a Server at construction.
type ServerOption func(*serverOptions)

type serverOptions struct {
	maxSubmissionLength int
}

// WithMaxSubmissionLength overrides the submission size cap enforced
// before pattern matching. Values below one keep the default.
func WithMaxSubmissionLength(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxSubmissionLength = n
	}
}

// NewServer creates a tutor server over the given content store.
func NewServer(store *Store, options ...ServerOption) Server {
	var opts serverOptions
	for _, opt := range options {
		opt(&opts)
	}
	return Server{
		store:     store,
		validator: newValidator(opts.maxSubmissionLength),
	}
}

// ListTools implements codecamp.ToolServer interface.
func (s Server) ListTools(context.Context, codecamp.ListToolsParams) (codecamp.ListToolsResult, error) {
	return toolList, nil
}

// CallTool implements codecamp.ToolServer interface.
//
// Domain failures such as an unknown course or an out-of-range lesson come
// back as results with IsError set, keeping the protocol layer clean for
// actual faults.
func (s Server) CallTool(_ context.Context, params codecamp.CallToolParams) (codecamp.CallToolResult, error) {
	switch params.Name {
	case "list_courses":
		return s.listCourses()
	case "course_details":
		return s.courseDetails(params)
	case "start_lesson":
		return s.startLesson(params)
	case "check_work":
		return s.checkWork(params)
	default:
		return codecamp.CallToolResult{}, fmt.Errorf("tool not found: %s", params.Name)
	}
}

func (s Server) listCourses() (codecamp.CallToolResult, error) {
	summaries, err := s.store.Summaries()
	if err != nil {
		return codecamp.CallToolResult{}, err
	}

	summariesJSON, err := json.Marshal(summaries)
	if err != nil {
		return codecamp.CallToolResult{}, err
	}

	return textResult(string(summariesJSON)), nil
}

func (s Server) courseDetails(params codecamp.CallToolParams) (codecamp.CallToolResult, error) {
	var cdParams courseDetailsArgs
	if err := json.Unmarshal(params.Arguments, &cdParams); err != nil {
		return codecamp.CallToolResult{}, err
	}

	course, errResult, err := s.resolveCourse(cdParams.CourseID)
	if err != nil {
		return codecamp.CallToolResult{}, err
	}
	if course == nil {
		return errResult, nil
	}

	details := courseDetails{
		ID:          course.ID,
		Title:       course.Title,
		Description: course.Description,
		Lessons:     make([]LessonSummary, 0, len(course.Lessons)),
	}
	for _, lesson := range course.Lessons {
		details.Lessons = append(details.Lessons, LessonSummary{
			Number: lesson.Number,
			ID:     lesson.ID,
			Title:  lesson.Title,
		})
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return codecamp.CallToolResult{}, err
	}

	return textResult(string(detailsJSON)), nil
}

func (s Server) startLesson(params codecamp.CallToolParams) (codecamp.CallToolResult, error) {
	var slParams startLessonArgs
	if err := json.Unmarshal(params.Arguments, &slParams); err != nil {
		return codecamp.CallToolResult{}, err
	}

	lesson, errResult, err := s.resolveLesson(slParams.CourseID, slParams.LessonNumber)
	if err != nil {
		return codecamp.CallToolResult{}, err
	}
	if lesson == nil {
		return errResult, nil
	}

	content := lessonContent{
		Number:      lesson.Number,
		Title:       lesson.Title,
		Explanation: lesson.Explanation,
		Example:     lesson.Example,
		Exercise:    lesson.Exercise,
	}

	contentJSON, err := json.Marshal(content)
	if err != nil {
		return codecamp.CallToolResult{}, err
	}

	return textResult(string(contentJSON)), nil
}

func (s Server) checkWork(params codecamp.CallToolParams) (codecamp.CallToolResult, error) {
	var cwParams checkWorkArgs
	if err := json.Unmarshal(params.Arguments, &cwParams); err != nil {
		return codecamp.CallToolResult{}, err
	}

	lesson, errResult, err := s.resolveLesson(cwParams.CourseID, cwParams.LessonNumber)
	if err != nil {
		return codecamp.CallToolResult{}, err
	}
	if lesson == nil {
		return errResult, nil
	}

	// An incorrect submission is a successful grading, not a tool error.
	result := s.validator.checkRaw(*lesson, cwParams.Code)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return codecamp.CallToolResult{}, err
	}

	return textResult(string(resultJSON)), nil
}

// resolveCourse validates the identifier and fetches the course. A nil
// course with a non-zero result means the caller should return that result
// to the client as a domain failure.
func (s Server) resolveCourse(courseID string) (*Course, codecamp.CallToolResult, error) {
	if err := validateCourseID(courseID, s.store.Has); err != nil {
		if errors.Is(err, errInvalidCourseID) || errors.Is(err, errUnknownCourseID) {
			return nil, errorResult(fmt.Sprintf(
				"Course %q not found. Use list_courses to see what's available.", courseID)), nil
		}
		return nil, codecamp.CallToolResult{}, err
	}

	course, err := s.store.GetCourse(courseID)
	if err != nil {
		if errors.Is(err, ErrCourseNotFound) {
			return nil, errorResult(fmt.Sprintf(
				"Course %q not found. Use list_courses to see what's available.", courseID)), nil
		}
		return nil, codecamp.CallToolResult{}, err
	}
	return course, codecamp.CallToolResult{}, nil
}

func (s Server) resolveLesson(courseID string, lessonNumber int) (*Lesson, codecamp.CallToolResult, error) {
	course, errResult, err := s.resolveCourse(courseID)
	if err != nil {
		return nil, codecamp.CallToolResult{}, err
	}
	if course == nil {
		return nil, errResult, nil
	}

	if lessonNumber < 1 || lessonNumber > 10 {
		return nil, errorResult("Lesson number must be between 1 and 10."), nil
	}
	if lessonNumber > len(course.Lessons) {
		return nil, errorResult(fmt.Sprintf(
			"Course %q has %d lessons; there is no lesson %d.",
			courseID, len(course.Lessons), lessonNumber)), nil
	}

	return &course.Lessons[lessonNumber-1], codecamp.CallToolResult{}, nil
}

func textResult(text string) codecamp.CallToolResult {
	return codecamp.CallToolResult{
		Content: []codecamp.Content{
			{
				Type: codecamp.ContentTypeText,
				Text: text,
			},
		},
		IsError: false,
	}
}

func errorResult(text string) codecamp.CallToolResult {
	return codecamp.CallToolResult{
		Content: []codecamp.Content{
			{
				Type: codecamp.ContentTypeText,
				Text: text,
			},
		},
		IsError: true,
	}
}
