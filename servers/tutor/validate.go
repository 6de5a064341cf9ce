package tutor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// defaultMaxSubmissionLength caps submissions at the tool contract level so
// a pathological payload never reaches pattern matching.
const defaultMaxSubmissionLength = 5000

// ValidationResult is the graded verdict for one submission. The contract
// is stable across every path: Message is never empty, Reward and
// NextLesson are populated only when Correct is true, and HasAttempt is
// false only for empty, whitespace-only, or non-string input.
type ValidationResult struct {
	Correct    bool    `json:"correct"`
	HasAttempt bool    `json:"hasAttempt"`
	Message    string  `json:"message"`
	Hint       string  `json:"hint,omitempty"`
	Reward     *Reward `json:"reward,omitempty"`
	NextLesson string  `json:"nextLesson,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// diagnoseFunc inspects a submission that already failed the lesson's
// primary pattern and reports a targeted verdict for a recognized
// near-miss shape. The second return value is false when the shape is not
// recognized and the generic failure message should be used.
type diagnoseFunc func(lesson Lesson, code string) (ValidationResult, bool)

// validator is the guided validation engine. The primary pattern is a
// cheap, data-driven success criterion needing zero per-lesson code; the
// diagnosers are a bounded escape hatch, at most one per lesson, that turn
// common near-misses into instructive feedback. A diagnoser only ever runs
// after the primary pattern has failed and never overrides a primary
// success.
type validator struct {
	maxLength  int
	diagnosers map[string]diagnoseFunc
}

func newValidator(maxLength int) *validator {
	if maxLength <= 0 {
		maxLength = defaultMaxSubmissionLength
	}
	return &validator{
		maxLength: maxLength,
		diagnosers: map[string]diagnoseFunc{
			"js-variables": diagnoseVariables,
			"js-numbers":   diagnoseNumbers,
			"js-math":      diagnoseMath,
			"js-functions": diagnoseFunctions,
			"js-arrays":    diagnoseArrays,
		},
	}
}

// checkRaw gates the submission before it is treated as code. The raw JSON
// form is accepted so a non-string value produces guidance instead of a
// decode fault.
func (v *validator) checkRaw(lesson Lesson, raw json.RawMessage) ValidationResult {
	if len(raw) == 0 {
		return ValidationResult{Message: "Please write some code first!"}
	}

	// JSON null unmarshals into a string without error; it is still not a
	// string submission.
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ValidationResult{Message: "Code must be a string"}
	}

	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		return ValidationResult{Message: "Code must be a string"}
	}

	return v.check(lesson, code)
}

// check runs the validation pipeline for one submission: gate, primary
// pattern, guided diagnosis, generic fallback. It never returns an error;
// a pattern that fails to compile degrades to a length heuristic with the
// compile failure surfaced in the result's Error field.
func (v *validator) check(lesson Lesson, code string) ValidationResult {
	if strings.TrimSpace(code) == "" {
		return ValidationResult{Message: "Please write some code first!"}
	}
	// The limit is in characters, matching the check_work schema, so a
	// multibyte submission is not penalized for its encoding.
	if utf8.RuneCountInString(code) > v.maxLength {
		return ValidationResult{
			HasAttempt: true,
			Message:    fmt.Sprintf("Your code exceeds the maximum length of %d characters. Try a shorter solution.", v.maxLength),
		}
	}

	re, err := regexp.Compile(lesson.Validation.Pattern)
	if err != nil {
		compileErr := fmt.Sprintf("validation pattern failed to compile: %v", err)
		// Weak positive: with no usable pattern, any substantial attempt
		// passes rather than punishing the student for a content bug.
		if utf8.RuneCountInString(strings.TrimSpace(code)) > 10 {
			res := successResult(lesson)
			res.Error = compileErr
			return res
		}
		res := v.failureResult(lesson)
		res.Error = compileErr
		return res
	}

	if re.MatchString(code) {
		return successResult(lesson)
	}

	if diagnose, ok := v.diagnosers[lesson.ID]; ok {
		if res, matched := diagnose(lesson, code); matched {
			return res
		}
	}

	return v.failureResult(lesson)
}

func successResult(lesson Lesson) ValidationResult {
	msg := "Correct! Great work."
	if lesson.Reward != nil && lesson.Reward.Message != "" {
		msg = lesson.Reward.Message
	}
	return ValidationResult{
		Correct:    true,
		HasAttempt: true,
		Message:    msg,
		Reward:     lesson.Reward,
		NextLesson: lesson.NextLessonID,
	}
}

func (v *validator) failureResult(lesson Lesson) ValidationResult {
	msg := lesson.Validation.ErrorMessage
	if msg == "" {
		msg = "Not quite right yet. Compare your code with the example and try again."
	}
	return ValidationResult{
		HasAttempt: true,
		Message:    msg,
		Hint:       lesson.Hint,
	}
}
