package tutor

import "encoding/json"

// Course is one course document as shipped in the embedded content
// directory. Course records are immutable once loaded.
type Course struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Lessons     []Lesson `json:"lessons"`
}

// Lesson is one ordered lesson inside a course.
type Lesson struct {
	ID           string     `json:"id"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Explanation  string     `json:"explanation"`
	Example      string     `json:"example,omitempty"`
	Exercise     string     `json:"exercise"`
	Validation   Validation `json:"validation"`
	Hint         string     `json:"hint,omitempty"`
	Reward       *Reward    `json:"reward,omitempty"`
	NextLessonID string     `json:"nextLessonId,omitempty"`
}

// Validation declares the lesson's canonical success criterion: a regular
// expression the raw submission must match, and an optional message shown
// when it does not.
type Validation struct {
	Pattern      string `json:"pattern"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Reward is granted when a lesson is completed.
type Reward struct {
	Stars   int    `json:"stars"`
	Badge   string `json:"badge,omitempty"`
	Message string `json:"message,omitempty"`
}

// CourseSummary is the listing view of a course.
type CourseSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	LessonCount int    `json:"lessonCount"`
}

// LessonSummary is the listing view of a lesson inside course details.
type LessonSummary struct {
	Number int    `json:"number"`
	ID     string `json:"id"`
	Title  string `json:"title"`
}

type courseDetailsArgs struct {
	CourseID string `json:"courseId"`
}

type startLessonArgs struct {
	CourseID     string `json:"courseId"`
	LessonNumber int    `json:"lessonNumber"`
}

type checkWorkArgs struct {
	CourseID     string `json:"courseId"`
	LessonNumber int    `json:"lessonNumber"`
	// Code stays raw so a non-string submission can be answered with
	// guidance instead of a decode error.
	Code json.RawMessage `json:"code"`
}

type courseDetails struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Lessons     []LessonSummary `json:"lessons"`
}

// lessonContent is the student-facing view of a lesson. The validation
// pattern and hint stay server-side.
type lessonContent struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
	Example     string `json:"example,omitempty"`
	Exercise    string `json:"exercise"`
}

var courseDetailsSchema = []byte(`{
  "type": "object",
  "properties": {
    "courseId": {
      "type": "string",
      "pattern": "^[a-z0-9-]+$",
      "description": "The id of the course, as returned by list_courses"
    }
  },
  "required": ["courseId"]
}`)

var startLessonSchema = []byte(`{
  "type": "object",
  "properties": {
    "courseId": {
      "type": "string",
      "pattern": "^[a-z0-9-]+$",
      "description": "The id of the course, as returned by list_courses"
    },
    "lessonNumber": {
      "type": "integer",
      "minimum": 1,
      "maximum": 10,
      "description": "The lesson to start, counting from 1"
    }
  },
  "required": ["courseId", "lessonNumber"]
}`)

var checkWorkSchema = []byte(`{
  "type": "object",
  "properties": {
    "courseId": {
      "type": "string",
      "pattern": "^[a-z0-9-]+$",
      "description": "The id of the course, as returned by list_courses"
    },
    "lessonNumber": {
      "type": "integer",
      "minimum": 1,
      "maximum": 10,
      "description": "The lesson the submission answers, counting from 1"
    },
    "code": {
      "type": "string",
      "maxLength": 5000,
      "description": "The student's code submission"
    }
  },
  "required": ["courseId", "lessonNumber", "code"]
}`)

var listCoursesSchema = []byte(`{
  "type": "object",
  "properties": {}
}`)
