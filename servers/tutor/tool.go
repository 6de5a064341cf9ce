package tutor

import "github.com/lessonlab/codecamp"

var toolList = codecamp.ListToolsResult{
	Tools: []codecamp.Tool{
		{
			Name: "list_courses",
			Description: `
List all available courses with their titles and lesson counts.
      `,
			InputSchema: listCoursesSchema,
		},
		{
			Name: "course_details",
			Description: `
Show the full lesson listing for one course.
      `,
			InputSchema: courseDetailsSchema,
		},
		{
			Name: "start_lesson",
			Description: `
Fetch a lesson's explanation, example and exercise so the student can begin working on it.
      `,
			InputSchema: startLessonSchema,
		},
		{
			Name: "check_work",
			Description: `
Grade a student's code submission against a lesson's exercise and return feedback, hints and rewards.
      `,
			InputSchema: checkWorkSchema,
		},
	},
}
