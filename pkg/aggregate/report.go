package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/lms"
	"github.com/google/uuid"
)

// Section names.
const (
	SectionUser          = "user"
	SectionCourses       = "courses"
	SectionAnnouncements = "announcements"
	SectionCalendar      = "calendar"
	SectionConversations = "conversations"
	SectionTodo          = "todo"
)

// Per-course sub-resource names, used as keys of CourseReport.Data and
// CourseReport.AccessibleData.
const (
	ResourceAssignments           = "assignments"
	ResourceAssignmentSubmissions = "assignment_submissions"
	ResourceSubmissions           = "submissions"
	ResourceModules               = "modules"
	ResourceDiscussions           = "discussions"
	ResourceFiles                 = "files"
	ResourcePages                 = "pages"
	ResourceGrades                = "grades"
)

// Span is one timed interval.
type Span struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationMs int64     `json:"duration_ms"`
}

func newSpan(start, end time.Time) Span {
	if end.Before(start) {
		end = start
	}
	return Span{Start: start, End: end, DurationMs: end.Sub(start).Milliseconds()}
}

// Duration returns End - Start.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Section is one top-level slice of a report.
type Section struct {
	Accessible bool   `json:"accessible"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Timing     Span   `json:"timing"`
}

// CourseReport is the per-course result of the fan-out stage.
type CourseReport struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Code       string `json:"course_code,omitempty"`
	Term       string `json:"term,omitempty"`
	TermBucket string `json:"term_bucket,omitempty"`
	Grade      *Grade `json:"grade,omitempty"`

	Data           map[string][]lms.Item `json:"data"`
	AccessibleData map[string]bool       `json:"accessibleData"`
	Errors         map[string]string     `json:"errors,omitempty"`
	Timing         Span                  `json:"timing"`

	course lms.Item
}

func newCourseReport(course lms.Item) CourseReport {
	return CourseReport{
		ID:             lms.ID(course),
		Name:           lms.String(course, "name"),
		Code:           lms.String(course, "course_code"),
		Term:           termName(course),
		Data:           make(map[string][]lms.Item),
		AccessibleData: make(map[string]bool),
		course:         course,
	}
}

// collect runs one guarded sub-fetch and records its outcome under name.
// A failure yields an empty list and accessibleData[name] = false.
func (cr *CourseReport) collect(name string, fetch func() ([]lms.Item, error)) []lms.Item {
	items, err := guard(fetch)
	if err != nil {
		cr.fail(name, err)
		cr.Data[name] = []lms.Item{}
		return cr.Data[name]
	}
	if items == nil {
		items = []lms.Item{}
	}
	cr.Data[name] = items
	cr.AccessibleData[name] = true
	return items
}

func (cr *CourseReport) fail(name string, err error) {
	if cr.Errors == nil {
		cr.Errors = make(map[string]string)
	}
	cr.AccessibleData[name] = false
	cr.Errors[name] = err.Error()
}

// Accessible reports whether every sub-fetch of the course succeeded.
func (cr *CourseReport) Accessible() bool {
	for _, ok := range cr.AccessibleData {
		if !ok {
			return false
		}
	}
	return true
}

// Timing is the report-level timing record.
type Timing struct {
	Span
	Sections map[string]int64 `json:"sections"`
	Courses  map[string]int64 `json:"courses,omitempty"`
}

// Report is the composite result of one aggregation.
type Report struct {
	Variant     string              `json:"variant"`
	RequestID   string              `json:"request_id"`
	Sections    map[string]*Section `json:"sections"`
	Courses     []CourseReport      `json:"courses"`
	Assignments []lms.Item          `json:"assignments,omitempty"`
	Errors      map[string]string   `json:"errors,omitempty"`
	Timing      Timing              `json:"timing"`
}

func newReport(variant, requestID string, start time.Time) *Report {
	return &Report{
		Variant:   variant,
		RequestID: requestID,
		Sections:  make(map[string]*Section),
		Courses:   []CourseReport{},
		Timing: Timing{
			Span:     Span{Start: start},
			Sections: make(map[string]int64),
		},
	}
}

func (r *Report) setSection(name string, s *Section) {
	r.Sections[name] = s
	r.Timing.Sections[name] = s.Timing.DurationMs
	if !s.Accessible {
		if r.Errors == nil {
			r.Errors = make(map[string]string)
		}
		r.Errors[name] = s.Error
	}
}

func (r *Report) finish(end time.Time) {
	r.Timing.Span = newSpan(r.Timing.Start, end)
	if len(r.Courses) > 0 {
		r.Timing.Courses = make(map[string]int64, len(r.Courses))
		for _, cr := range r.Courses {
			r.Timing.Courses[cr.ID] = cr.Timing.DurationMs
		}
	}
}

// FatalError is returned when an aggregation could not be carried out at
// all, as opposed to a section or course failing.
type FatalError struct {
	Message string
	Elapsed time.Duration
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("aggregation failed after %s: %s", e.Elapsed, e.Message)
}

type requestIDKey struct{}

// WithRequestID stores the inbound request ID for the report.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// guard runs fn and turns a panic into an error.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
