package tutor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/lessonlab/codecamp"
)

func newTestServer(t *testing.T, options ...ServerOption) Server {
	t.Helper()
	store, err := NewStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return NewServer(store, options...)
}

func callTool(t *testing.T, srv Server, name string, args string) codecamp.CallToolResult {
	t.Helper()
	result, err := srv.CallTool(context.Background(), codecamp.CallToolParams{
		Name:      name,
		Arguments: json.RawMessage(args),
	})
	if err != nil {
		t.Fatalf("CallTool(%s) failed: %v", name, err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != codecamp.ContentTypeText {
		t.Fatalf("CallTool(%s): expected a single text content block, got %+v", name, result.Content)
	}
	return result
}

func TestServerListTools(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.ListTools(context.Background(), codecamp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}

	want := []string{"list_courses", "course_details", "start_lesson", "check_work"}
	if len(result.Tools) != len(want) {
		t.Fatalf("got %d tools, want %d", len(result.Tools), len(want))
	}
	for i, name := range want {
		if result.Tools[i].Name != name {
			t.Errorf("tool %d: got %q, want %q", i, result.Tools[i].Name, name)
		}
		if len(result.Tools[i].InputSchema) == 0 {
			t.Errorf("tool %q has no input schema", name)
		}
	}
}

func TestServerUnknownTool(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.CallTool(context.Background(), codecamp.CallToolParams{Name: "drop_tables"})
	if err == nil {
		t.Fatal("expected an error for an unknown tool")
	}
}

func TestServerListCourses(t *testing.T) {
	srv := newTestServer(t)

	result := callTool(t, srv, "list_courses", `{}`)
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}

	var summaries []CourseSummary
	if err := json.Unmarshal([]byte(result.Content[0].Text), &summaries); err != nil {
		t.Fatalf("failed to unmarshal summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d courses, want 2", len(summaries))
	}
}

func TestServerCourseDetails(t *testing.T) {
	srv := newTestServer(t)

	result := callTool(t, srv, "course_details", `{"courseId":"javascript-basics"}`)
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}

	var details courseDetails
	if err := json.Unmarshal([]byte(result.Content[0].Text), &details); err != nil {
		t.Fatalf("failed to unmarshal details: %v", err)
	}
	if details.ID != "javascript-basics" || len(details.Lessons) != 5 {
		t.Fatalf("got details %+v", details)
	}
}

func TestServerCourseNotFound(t *testing.T) {
	srv := newTestServer(t)

	for _, courseID := range []string{"rust-basics", "../etc/passwd", "%2e%2e%2f"} {
		args, _ := json.Marshal(courseDetailsArgs{CourseID: courseID})
		result := callTool(t, srv, "course_details", string(args))

		if !result.IsError {
			t.Errorf("courseId %q: expected an error result", courseID)
		}
		text := result.Content[0].Text
		if !strings.Contains(text, courseID) {
			t.Errorf("courseId %q: message %q does not name the id", courseID, text)
		}
		if !strings.Contains(text, "list_courses") {
			t.Errorf("courseId %q: message %q does not suggest list_courses", courseID, text)
		}
	}
}

func TestServerStartLesson(t *testing.T) {
	srv := newTestServer(t)

	result := callTool(t, srv, "start_lesson", `{"courseId":"javascript-basics","lessonNumber":1}`)
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}

	var content lessonContent
	if err := json.Unmarshal([]byte(result.Content[0].Text), &content); err != nil {
		t.Fatalf("failed to unmarshal lesson content: %v", err)
	}
	if content.Number != 1 || content.Title != "Variables" {
		t.Errorf("got content %+v", content)
	}
	if content.Exercise == "" {
		t.Error("expected the exercise text")
	}

	// The answer key stays server-side.
	if strings.Contains(result.Content[0].Text, "pattern") {
		t.Error("lesson content must not leak the validation pattern")
	}
	if strings.Contains(result.Content[0].Text, "hint") {
		t.Error("lesson content must not leak the hint")
	}
}

func TestServerStartLessonOutOfRange(t *testing.T) {
	srv := newTestServer(t)

	result := callTool(t, srv, "start_lesson", `{"courseId":"javascript-basics","lessonNumber":0}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "between 1 and 10") {
		t.Errorf("lessonNumber 0: got %+v", result)
	}

	result = callTool(t, srv, "start_lesson", `{"courseId":"javascript-basics","lessonNumber":11}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "between 1 and 10") {
		t.Errorf("lessonNumber 11: got %+v", result)
	}

	// In range for the tool contract, out of range for this course.
	result = callTool(t, srv, "start_lesson", `{"courseId":"javascript-basics","lessonNumber":9}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "has 5 lessons") {
		t.Errorf("lessonNumber 9: got %+v", result)
	}
}

func TestServerCheckWorkCorrect(t *testing.T) {
	srv := newTestServer(t)

	args, _ := json.Marshal(checkWorkArgs{
		CourseID:     "javascript-basics",
		LessonNumber: 1,
		Code:         json.RawMessage(`"let message = \"Hi\";\nconsole.log(message);"`),
	})
	result := callTool(t, srv, "check_work", string(args))
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}

	var verdict ValidationResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &verdict); err != nil {
		t.Fatalf("failed to unmarshal verdict: %v", err)
	}
	if !verdict.Correct {
		t.Fatalf("expected a correct verdict, got %+v", verdict)
	}
	if verdict.Reward == nil || verdict.NextLesson != "js-numbers" {
		t.Errorf("expected reward and next lesson, got %+v", verdict)
	}
}

func TestServerCheckWorkIncorrect(t *testing.T) {
	srv := newTestServer(t)

	result := callTool(t, srv, "check_work",
		`{"courseId":"javascript-basics","lessonNumber":1,"code":"nope"}`)

	// An incorrect submission is still a successful grading.
	if result.IsError {
		t.Fatalf("grading an incorrect submission must not be a tool error: %+v", result)
	}

	var verdict ValidationResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &verdict); err != nil {
		t.Fatalf("failed to unmarshal verdict: %v", err)
	}
	if verdict.Correct {
		t.Fatal("expected an incorrect verdict")
	}
	if verdict.Message == "" {
		t.Error("expected feedback for the student")
	}
}

func TestServerCheckWorkNonStringCode(t *testing.T) {
	srv := newTestServer(t)

	result := callTool(t, srv, "check_work",
		`{"courseId":"javascript-basics","lessonNumber":1,"code":42}`)
	if result.IsError {
		t.Fatalf("a non-string submission is graded, not rejected: %+v", result)
	}

	var verdict ValidationResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &verdict); err != nil {
		t.Fatalf("failed to unmarshal verdict: %v", err)
	}
	if verdict.Message != "Code must be a string" {
		t.Errorf("got message %q", verdict.Message)
	}
}

func TestServerCheckWorkMaxLengthOption(t *testing.T) {
	srv := newTestServer(t, WithMaxSubmissionLength(10))

	result := callTool(t, srv, "check_work",
		`{"courseId":"javascript-basics","lessonNumber":1,"code":"this is longer than ten"}`)

	var verdict ValidationResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &verdict); err != nil {
		t.Fatalf("failed to unmarshal verdict: %v", err)
	}
	if !strings.Contains(verdict.Message, "maximum length of 10") {
		t.Errorf("got message %q, want the configured limit named", verdict.Message)
	}
}

func TestServerResources(t *testing.T) {
	srv := newTestServer(t)

	listResult, err := srv.ListResources(context.Background(), codecamp.ListResourcesParams{})
	if err != nil {
		t.Fatalf("ListResources failed: %v", err)
	}
	if len(listResult.Resources) != 1 || listResult.Resources[0].URI != catalogURI {
		t.Fatalf("got resources %+v, want the catalog", listResult.Resources)
	}

	readResult, err := srv.ReadResource(context.Background(), codecamp.ReadResourceParams{URI: catalogURI})
	if err != nil {
		t.Fatalf("ReadResource failed: %v", err)
	}
	if len(readResult.Contents) != 1 {
		t.Fatalf("got contents %+v, want one document", readResult.Contents)
	}

	var summaries []CourseSummary
	if err := json.Unmarshal([]byte(readResult.Contents[0].Text), &summaries); err != nil {
		t.Fatalf("failed to unmarshal catalog: %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("got %d courses in the catalog, want 2", len(summaries))
	}

	if _, err := srv.ReadResource(context.Background(), codecamp.ReadResourceParams{URI: "codecamp://other"}); err == nil {
		t.Error("expected an error for an unknown resource")
	}
}
