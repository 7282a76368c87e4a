// Package aggregate composes resource client calls into dashboard reports.
//
// An aggregation runs in fixed stages: user, course list, a bounded
// per-course fan-out, course independent resources, post-processing.
// Every fetch is guarded on its own. A failing section or course slice is
// recorded in the report and never stops the rest of the aggregation; only
// a failure outside the guarded fetches yields a *FatalError.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/fanout"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/lms"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/logging"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	aggregationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_aggregations_total",
		Help: "Total aggregations by variant and result",
	}, []string{"variant", "result"})

	aggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lms_aggregation_duration_seconds",
		Help:    "Aggregation duration by variant",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"variant"})

	sectionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_aggregation_section_failures_total",
		Help: "Failed report sections by name",
	}, []string{"section"})

	courseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_aggregation_course_failures_total",
		Help: "Failed per-course sub-fetches by resource",
	}, []string{"resource"})
)

// Report variants.
const (
	VariantDashboard     = "dashboard"
	VariantCourseContent = "course_content"
	VariantCurrentGrades = "current_term_grades"
)

// Resources is the resource client the aggregator depends on.
type Resources interface {
	GetSelf(ctx context.Context) (pagination.Result, error)
	ListCourses(ctx context.Context, opts lms.CourseOptions) (pagination.Result, error)
	ListCourseAssignments(ctx context.Context, courseID string, opts lms.AssignmentOptions) (pagination.Result, error)
	ListAssignmentSubmissions(ctx context.Context, courseID, assignmentID string) (pagination.Result, error)
	ListCourseSubmissions(ctx context.Context, courseID string) (pagination.Result, error)
	ListAnnouncements(ctx context.Context, courses []lms.Item, opts lms.AnnouncementOptions) (pagination.Result, error)
	ListCalendarEvents(ctx context.Context) (pagination.Result, error)
	ListTodoItems(ctx context.Context) (pagination.Result, error)
	ListConversations(ctx context.Context) (pagination.Result, error)
	ListCourseModules(ctx context.Context, courseID string) (pagination.Result, error)
	ListDiscussionTopics(ctx context.Context, courseID string) (pagination.Result, error)
	ListCourseFiles(ctx context.Context, courseID string) (pagination.Result, error)
	ListCoursePages(ctx context.Context, courseID string) (pagination.Result, error)
	ListCourseEnrollments(ctx context.Context, courseID string) (pagination.Result, error)
}

// Config holds aggregator configuration.
type Config struct {
	// PastWindow and FutureWindow bound the due dates of dashboard
	// assignments around now.
	PastWindow   time.Duration
	FutureWindow time.Duration

	// AnnouncementWindow is how far back announcements are listed.
	AnnouncementWindow time.Duration

	// CurrentCourseIDs, when set, replaces the season heuristic of the
	// current-term view.
	CurrentCourseIDs []string

	// AssignmentSubmissions fetches submissions per assignment on the
	// dashboard, one request at a time within a course.
	AssignmentSubmissions bool

	Fanout fanout.Config

	// Now is the clock (time.Now when nil).
	Now func() time.Time
}

// DefaultConfig returns the default aggregator configuration.
func DefaultConfig() Config {
	return Config{
		PastWindow:            7 * 24 * time.Hour,
		FutureWindow:          30 * 24 * time.Hour,
		AnnouncementWindow:    14 * 24 * time.Hour,
		AssignmentSubmissions: true,
		Fanout:                fanout.DefaultConfig(),
	}
}

// Aggregator builds reports. It holds no per-request state and is safe
// for concurrent use.
type Aggregator struct {
	res       Resources
	config    Config
	sanitizer *sanitizer
	logger    zerolog.Logger
}

// New creates an aggregator.
func New(res Resources, cfg Config) *Aggregator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{
		res:       res,
		config:    cfg,
		sanitizer: newSanitizer(),
		logger:    logging.NewLogger(logging.ComponentAggregator),
	}
}

func (a *Aggregator) now() time.Time {
	if a == nil || a.config.Now == nil {
		return time.Now()
	}
	return a.config.Now()
}

// run wraps one aggregation: request setup, fatal error handling, timing
// and metrics.
func (a *Aggregator) run(ctx context.Context, variant string, build func(ctx context.Context, r *Report)) (report *Report, err error) {
	start := a.now()

	defer func() {
		if rec := recover(); rec != nil {
			report = nil
			err = &FatalError{Message: fmt.Sprint(rec), Elapsed: a.now().Sub(start)}
		}

		result := "ok"
		if err != nil {
			result = "fatal"
			a.log().Error().Err(err).Str("variant", variant).Msg("Aggregation failed")
		}
		aggregationsTotal.WithLabelValues(variant, result).Inc()
		aggregationDuration.WithLabelValues(variant).Observe(a.now().Sub(start).Seconds())
	}()

	if a == nil || a.res == nil {
		return nil, &FatalError{Message: "resource client is not configured", Elapsed: a.now().Sub(start)}
	}
	if ctx == nil {
		return nil, &FatalError{Message: "nil context", Elapsed: a.now().Sub(start)}
	}

	report = newReport(variant, requestID(ctx), start)
	build(ctx, report)
	report.finish(a.now())

	a.logger.Info().
		Str("variant", variant).
		Str("request_id", report.RequestID).
		Int("courses", len(report.Courses)).
		Int("section_errors", len(report.Errors)).
		Int64("duration_ms", report.Timing.DurationMs).
		Msg("Aggregation complete")

	return report, nil
}

func (a *Aggregator) log() *zerolog.Logger {
	if a == nil {
		l := logging.NewLogger(logging.ComponentAggregator)
		return &l
	}
	return &a.logger
}

// section runs one guarded top-level fetch and records it in r.
func (a *Aggregator) section(r *Report, name string, fetch func() (any, error)) bool {
	start := a.now()
	data, err := guard(fetch)
	s := &Section{Accessible: err == nil, Data: data, Timing: newSpan(start, a.now())}
	if err != nil {
		s.Data = nil
		s.Error = err.Error()
		sectionFailuresTotal.WithLabelValues(name).Inc()
		a.logger.Warn().Err(err).Str("section", name).Msg("Section unavailable")
	}
	r.setSection(name, s)
	return err == nil
}

// courses runs fill for every course on the worker pool and returns the
// reports in course order.
func (a *Aggregator) courses(ctx context.Context, courses []lms.Item, fill func(ctx context.Context, cr *CourseReport)) []CourseReport {
	outcomes := fanout.Run(ctx, a.config.Fanout, courses,
		func(ctx context.Context, i int, course lms.Item) (CourseReport, error) {
			cr := newCourseReport(course)
			fill(ctx, &cr)
			return cr, nil
		})

	reports := make([]CourseReport, len(outcomes))
	for i, o := range outcomes {
		cr := o.Value
		if o.Err != nil {
			cr = newCourseReport(courses[i])
			cr.fail("course", o.Err)
		}
		cr.Timing = newSpan(o.Start, o.Start.Add(o.Duration))
		for name, ok := range cr.AccessibleData {
			if !ok {
				courseFailuresTotal.WithLabelValues(name).Inc()
			}
		}
		reports[i] = cr
	}
	return reports
}

// Dashboard builds the student dashboard: profile, courses with their
// current assignments, announcements, calendar, conversations and todo.
func (a *Aggregator) Dashboard(ctx context.Context) (*Report, error) {
	return a.run(ctx, VariantDashboard, func(ctx context.Context, r *Report) {
		now := a.now()

		a.section(r, SectionUser, func() (any, error) {
			return object(a.res.GetSelf(ctx))
		})

		var courses []lms.Item
		a.section(r, SectionCourses, func() (any, error) {
			items, err := list(a.res.ListCourses(ctx, lms.CourseOptions{
				IncludeTerm:        true,
				IncludeTeachers:    true,
				IncludeTotalScores: true,
			}))
			courses = items
			return items, err
		})

		dueAfter := now.Add(-a.config.PastWindow)
		dueBefore := now.Add(a.config.FutureWindow)
		r.Courses = a.courses(ctx, courses, func(ctx context.Context, cr *CourseReport) {
			cr.Grade = ExtractGrade(cr.course)

			assignments := cr.collect(ResourceAssignments, func() ([]lms.Item, error) {
				return list(a.res.ListCourseAssignments(ctx, cr.ID, lms.AssignmentOptions{
					DueAfter:          &dueAfter,
					DueBefore:         &dueBefore,
					IncludeSubmission: true,
				}))
			})

			if a.config.AssignmentSubmissions {
				a.assignmentSubmissions(ctx, cr, assignments)
			}

			cr.collect(ResourceSubmissions, func() ([]lms.Item, error) {
				return list(a.res.ListCourseSubmissions(ctx, cr.ID))
			})
		})

		a.independentSections(ctx, r, courses, now)

		r.Assignments = annotatedAssignments(r.Courses)
	})
}

// assignmentSubmissions fetches submissions for each assignment in turn
// and attaches them as "submissions". Requests within a course are never
// concurrent.
func (a *Aggregator) assignmentSubmissions(ctx context.Context, cr *CourseReport, assignments []lms.Item) {
	cr.AccessibleData[ResourceAssignmentSubmissions] = true
	for _, asg := range assignments {
		id := lms.ID(asg)
		if id == "" {
			continue
		}
		subs, err := guard(func() ([]lms.Item, error) {
			return list(a.res.ListAssignmentSubmissions(ctx, cr.ID, id))
		})
		if err != nil {
			cr.fail(ResourceAssignmentSubmissions, fmt.Errorf("assignment %s: %w", id, err))
			asg["submissions"] = []lms.Item{}
			continue
		}
		if subs == nil {
			subs = []lms.Item{}
		}
		asg["submissions"] = subs
	}
}

// independentSections fetches the resources that do not fan out per
// course. Announcements need the course list for their context codes.
func (a *Aggregator) independentSections(ctx context.Context, r *Report, courses []lms.Item, now time.Time) {
	startDate := now.Add(-a.config.AnnouncementWindow)
	a.section(r, SectionAnnouncements, func() (any, error) {
		items, err := list(a.res.ListAnnouncements(ctx, courses, lms.AnnouncementOptions{StartDate: &startDate}))
		if err != nil {
			return nil, err
		}
		a.sanitizer.items(items)
		SortAnnouncements(items)
		return items, nil
	})

	a.section(r, SectionCalendar, func() (any, error) {
		return list(a.res.ListCalendarEvents(ctx))
	})
	a.section(r, SectionConversations, func() (any, error) {
		return list(a.res.ListConversations(ctx))
	})
	a.section(r, SectionTodo, func() (any, error) {
		return list(a.res.ListTodoItems(ctx))
	})
}

// CourseContent builds the per-course content view: assignments, modules,
// discussions, files, pages and the caller's grade for every course.
func (a *Aggregator) CourseContent(ctx context.Context) (*Report, error) {
	return a.run(ctx, VariantCourseContent, func(ctx context.Context, r *Report) {
		a.section(r, SectionUser, func() (any, error) {
			return object(a.res.GetSelf(ctx))
		})

		var courses []lms.Item
		a.section(r, SectionCourses, func() (any, error) {
			items, err := list(a.res.ListCourses(ctx, lms.CourseOptions{IncludeTerm: true}))
			courses = items
			return items, err
		})

		r.Courses = a.courses(ctx, courses, func(ctx context.Context, cr *CourseReport) {
			cr.collect(ResourceAssignments, func() ([]lms.Item, error) {
				return list(a.res.ListCourseAssignments(ctx, cr.ID, lms.AssignmentOptions{IncludeSubmission: true}))
			})
			cr.collect(ResourceModules, func() ([]lms.Item, error) {
				return list(a.res.ListCourseModules(ctx, cr.ID))
			})
			cr.collect(ResourceDiscussions, func() ([]lms.Item, error) {
				return list(a.res.ListDiscussionTopics(ctx, cr.ID))
			})
			cr.collect(ResourceFiles, func() ([]lms.Item, error) {
				return list(a.res.ListCourseFiles(ctx, cr.ID))
			})
			cr.collect(ResourcePages, func() ([]lms.Item, error) {
				return list(a.res.ListCoursePages(ctx, cr.ID))
			})
			enrollments := cr.collect(ResourceGrades, func() ([]lms.Item, error) {
				return list(a.res.ListCourseEnrollments(ctx, cr.ID))
			})
			cr.Grade = GradeFromEnrollments(enrollments)
		})

		r.Assignments = annotatedAssignments(r.Courses)
	})
}

// CurrentTermGrades lists the caller's grades for the courses of the
// current term: the configured course IDs when set, otherwise the courses
// whose term name matches the season of the current month.
func (a *Aggregator) CurrentTermGrades(ctx context.Context) (*Report, error) {
	return a.run(ctx, VariantCurrentGrades, func(ctx context.Context, r *Report) {
		a.section(r, SectionUser, func() (any, error) {
			return object(a.res.GetSelf(ctx))
		})

		var courses []lms.Item
		a.section(r, SectionCourses, func() (any, error) {
			items, err := list(a.res.ListCourses(ctx, lms.CourseOptions{
				IncludeTerm:        true,
				IncludeTotalScores: true,
			}))
			courses = items
			return items, err
		})

		season := SeasonFor(a.now().Month())
		allow := make(map[string]bool, len(a.config.CurrentCourseIDs))
		for _, id := range a.config.CurrentCourseIDs {
			allow[id] = true
		}

		for _, course := range courses {
			start := a.now()
			cr := newCourseReport(course)
			cr.TermBucket = TermBucket(cr.Term)

			if len(allow) > 0 {
				if !allow[cr.ID] {
					continue
				}
			} else if !InSeason(cr.Term, season) {
				continue
			}

			// Grades come with the course list; a course without scores is
			// still accessible, its grade is just nil.
			cr.Grade = ExtractGrade(course)
			cr.AccessibleData[ResourceGrades] = true
			cr.Timing = newSpan(start, a.now())
			r.Courses = append(r.Courses, cr)
		}

		a.logger.Debug().
			Str("season", season).
			Int("allow_list", len(allow)).
			Int("courses", len(courses)).
			Int("current", len(r.Courses)).
			Msg("Current term filter applied")
	})
}

// annotatedAssignments flattens the course assignments, tags each with its
// course and sorts them by due date.
func annotatedAssignments(courses []CourseReport) []lms.Item {
	all := []lms.Item{}
	for _, cr := range courses {
		for _, asg := range cr.Data[ResourceAssignments] {
			asg["course_id"] = cr.course["id"]
			asg["course_name"] = cr.Name
			asg["course_code"] = cr.Code
			all = append(all, asg)
		}
	}
	SortAssignments(all)
	return all
}

func list(res pagination.Result, err error) ([]lms.Item, error) {
	if err != nil {
		return nil, err
	}
	return res.List()
}

func object(res pagination.Result, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return res.Object()
}
