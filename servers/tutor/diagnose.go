package tutor

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reStringDeclaration = regexp.MustCompile(`(?:let|const|var)\s+([A-Za-z_$][\w$]*)\s*=\s*["'].*?["']`)
	reUnquotedText      = regexp.MustCompile(`(?:let|const|var)\s+\w+\s*=\s*[A-Za-z]`)
	reQuotedNumber      = regexp.MustCompile(`(?:let|const|var)\s+\w+\s*=\s*["']\d+(?:\.\d+)?["']`)
	reSumDeclaration    = regexp.MustCompile(`(?:let|const|var)\s+sum\s*=`)
	reFunctionShape     = regexp.MustCompile(`function\s+\w+\s*\(|=>`)
	reReturnKeyword     = regexp.MustCompile(`\breturn\b`)
	reArrayLiteral      = regexp.MustCompile(`\[([^\]]*)\]`)
)

// diagnoseVariables recognizes two near-miss shapes for the first
// variables lesson: a correctly used variable under a different name than
// the prescribed "message", which is accepted with a naming tip rather
// than rejected for a surface-level mismatch, and a text value left
// without quotes.
func diagnoseVariables(lesson Lesson, code string) (ValidationResult, bool) {
	if m := reStringDeclaration.FindStringSubmatch(code); m != nil {
		name := m[1]
		if name == "message" {
			// The prescribed declaration is present, so the failure is
			// elsewhere; let the generic message handle it.
			return ValidationResult{}, false
		}

		uses := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`).FindAllStringIndex(code, -1)
		if len(uses) >= 2 {
			res := successResult(lesson)
			res.Message = fmt.Sprintf(
				"Your code works! Tip: the lesson asked for a variable named \"message\", but %q does the job. Matching the lesson's names makes the examples easier to follow.",
				name)
			return res, true
		}

		return ValidationResult{
			HasAttempt: true,
			Message:    fmt.Sprintf("You declared %q but never used it. Print it with console.log(%s).", name, name),
			Hint:       lesson.Hint,
		}, true
	}

	if reUnquotedText.MatchString(code) {
		return ValidationResult{
			HasAttempt: true,
			Message:    `Text values need quotes: write "Hello" instead of Hello.`,
			Hint:       lesson.Hint,
		}, true
	}

	return ValidationResult{}, false
}

// diagnoseNumbers catches the wrong-literal-kind near miss: a numeric
// quantity wrapped in quotes.
func diagnoseNumbers(lesson Lesson, code string) (ValidationResult, bool) {
	if !reQuotedNumber.MatchString(code) {
		return ValidationResult{}, false
	}
	return ValidationResult{
		HasAttempt: true,
		Message:    `Numbers don't need quotes. Write 25 rather than "25" so JavaScript can do math with it.`,
		Hint:       lesson.Hint,
	}, true
}

// diagnoseMath catches a sum declaration with the + operator missing.
func diagnoseMath(lesson Lesson, code string) (ValidationResult, bool) {
	if !reSumDeclaration.MatchString(code) || strings.Contains(code, "+") {
		return ValidationResult{}, false
	}
	return ValidationResult{
		HasAttempt: true,
		Message:    "Your sum is missing the + operator between the two values.",
		Hint:       lesson.Hint,
	}, true
}

// diagnoseFunctions catches a function body that never returns its result.
func diagnoseFunctions(lesson Lesson, code string) (ValidationResult, bool) {
	if !reFunctionShape.MatchString(code) || reReturnKeyword.MatchString(code) {
		return ValidationResult{}, false
	}
	return ValidationResult{
		HasAttempt: true,
		Message:    "Your function runs but never hands its result back. Add a return statement.",
		Hint:       lesson.Hint,
	}, true
}

// diagnoseArrays catches an under-populated collection.
func diagnoseArrays(lesson Lesson, code string) (ValidationResult, bool) {
	m := reArrayLiteral.FindStringSubmatch(code)
	if m == nil {
		return ValidationResult{}, false
	}

	inner := strings.TrimSpace(m[1])
	count := 0
	if inner != "" {
		count = strings.Count(inner, ",") + 1
	}
	if count >= 3 {
		return ValidationResult{}, false
	}

	return ValidationResult{
		HasAttempt: true,
		Message:    fmt.Sprintf("Your array has %d items; this exercise wants at least 3. Add more, separated by commas.", count),
		Hint:       lesson.Hint,
	}, true
}
