package aggregate

import (
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/lms"
)

// Grade is the caller's grade in one course.
type Grade struct {
	Score  float64 `json:"score"`
	Letter string  `json:"letter,omitempty"`
	// Source is "current" or "final".
	Source string `json:"source"`
}

// ExtractGrade reads the grade from a course's embedded enrollments
// (courses listed with include[]=total_scores).
func ExtractGrade(course lms.Item) *Grade {
	raw, _ := course["enrollments"].([]any)
	enrollments := make([]lms.Item, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]any); ok {
			enrollments = append(enrollments, m)
		}
	}
	return GradeFromEnrollments(enrollments)
}

// GradeFromEnrollments picks the first student enrollment and reads its
// score. Current score and letter win over final ones. No student
// enrollment, or one without scores, yields nil.
func GradeFromEnrollments(enrollments []lms.Item) *Grade {
	for _, e := range enrollments {
		switch lms.String(e, "type") {
		case "student", "StudentEnrollment":
			return gradeOf(e)
		}
	}
	return nil
}

func gradeOf(enrollment lms.Item) *Grade {
	// Enrollment endpoints nest the scores in "grades".
	nested, _ := enrollment["grades"].(map[string]any)

	for _, source := range []string{"current", "final"} {
		if score, ok := lms.Float(enrollment, "computed_"+source+"_score"); ok {
			return &Grade{Score: score, Letter: lms.String(enrollment, "computed_"+source+"_grade"), Source: source}
		}
		if nested == nil {
			continue
		}
		if score, ok := lms.Float(nested, source+"_score"); ok {
			return &Grade{Score: score, Letter: lms.String(nested, source+"_grade"), Source: source}
		}
	}
	return nil
}
