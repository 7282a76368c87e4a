// Package lms provides typed accessors for the upstream LMS resources.
//
// Every accessor shapes its query with a query.Params, validates it against
// the resource's schema and hands the encoded path to the paginated
// fetcher. Results and errors are returned unchanged.
package lms

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/logging"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/pagination"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/query"
	"github.com/rs/zerolog"
)

// Item is one opaque upstream record.
type Item = pagination.Item

// Fetcher is the paginated fetch operation the resource client builds on.
type Fetcher interface {
	Fetch(ctx context.Context, path string, opts pagination.Options) (pagination.Result, error)
}

// Config holds resource client configuration.
type Config struct {
	// PageSize is sent as per_page on list endpoints.
	PageSize int
}

// DefaultConfig returns the default resource client configuration.
func DefaultConfig() Config {
	return Config{PageSize: 50}
}

var (
	coursesSchema = query.Schema{
		Resource: "courses",
		Allowed:  []string{"state[]", "per_page", "include[]"},
	}
	assignmentsSchema = query.Schema{
		Resource: "assignments",
		Allowed:  []string{"per_page", "order_by", "due_after", "due_before", "include[]"},
	}
	announcementsSchema = query.Schema{
		Resource: "announcements",
		Allowed:  []string{"context_codes[]", "latest_only", "start_date", "per_page"},
	}
	enrollmentsSchema = query.Schema{
		Resource: "enrollments",
		Allowed:  []string{"user_id", "per_page"},
	}
	listSchema = query.Schema{
		Resource: "list",
		Allowed:  []string{"per_page"},
	}
)

// Client is the resource client.
type Client struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// New creates a resource client on top of a paginated fetcher.
func New(fetcher Fetcher, cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	return &Client{
		fetcher: fetcher,
		config:  cfg,
		logger:  logging.NewLogger(logging.ComponentResources),
	}
}

// Fetch exposes the raw paginated fetch for arbitrary paths.
func (c *Client) Fetch(ctx context.Context, path string, opts pagination.Options) (pagination.Result, error) {
	return c.fetcher.Fetch(ctx, path, opts)
}

func (c *Client) fetch(ctx context.Context, schema query.Schema, resource string, p *query.Params, opts pagination.Options) (pagination.Result, error) {
	path, err := schema.Build(resource, p)
	if err != nil {
		return pagination.Failed(0, err.Error()), fmt.Errorf("build query: %w", err)
	}

	c.logger.Debug().Str("path", path).Msg("Fetching resource")
	return c.fetcher.Fetch(ctx, path, opts)
}

func (c *Client) pageSized() *query.Params {
	return query.New().SetInt("per_page", c.config.PageSize)
}

// CourseOptions enrich the course list.
type CourseOptions struct {
	IncludeTerm        bool
	IncludeTeachers    bool
	IncludeTotalScores bool
}

// ListCourses lists the caller's available courses.
func (c *Client) ListCourses(ctx context.Context, opts CourseOptions) (pagination.Result, error) {
	p := query.New().
		Add("state[]", "available").
		SetInt("per_page", c.config.PageSize)
	if opts.IncludeTerm {
		p.Add("include[]", "term")
	}
	if opts.IncludeTeachers {
		p.Add("include[]", "teachers")
	}
	if opts.IncludeTotalScores {
		p.Add("include[]", "total_scores")
	}
	return c.fetch(ctx, coursesSchema, "/courses", p, pagination.Options{})
}

// AssignmentOptions shape an assignment list.
type AssignmentOptions struct {
	// OrderBy defaults to "due_at".
	OrderBy           string
	DueAfter          *time.Time
	DueBefore         *time.Time
	IncludeSubmission bool
}

// ListCourseAssignments lists the assignments of one course.
func (c *Client) ListCourseAssignments(ctx context.Context, courseID string, opts AssignmentOptions) (pagination.Result, error) {
	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = "due_at"
	}

	p := c.pageSized().Set("order_by", orderBy)
	if opts.DueAfter != nil {
		p.Set("due_after", opts.DueAfter.UTC().Format(time.RFC3339))
	}
	if opts.DueBefore != nil {
		p.Set("due_before", opts.DueBefore.UTC().Format(time.RFC3339))
	}
	if opts.IncludeSubmission {
		p.Add("include[]", "submission")
	}
	return c.fetch(ctx, assignmentsSchema, coursePath(courseID, "assignments"), p, pagination.Options{})
}

// ListAssignmentSubmissions lists the submissions of one assignment.
func (c *Client) ListAssignmentSubmissions(ctx context.Context, courseID, assignmentID string) (pagination.Result, error) {
	path := coursePath(courseID, "assignments") + "/" + url.PathEscape(assignmentID) + "/submissions"
	return c.fetcher.Fetch(ctx, path, pagination.Options{})
}

// ListCourseSubmissions lists every submission in a course. Permission
// failures are expected for students and come back as an empty list.
func (c *Client) ListCourseSubmissions(ctx context.Context, courseID string) (pagination.Result, error) {
	return c.fetch(ctx, listSchema, coursePath(courseID, "students/submissions"), c.pageSized(),
		pagination.Options{SilentErrors: true})
}

// AnnouncementOptions shape the announcement list.
type AnnouncementOptions struct {
	LatestOnly bool
	StartDate  *time.Time
}

// ListAnnouncements lists announcements for the given courses. Announcements
// are scoped by course context, so no courses means no request.
func (c *Client) ListAnnouncements(ctx context.Context, courses []Item, opts AnnouncementOptions) (pagination.Result, error) {
	codes := make([]string, 0, len(courses))
	for _, course := range courses {
		if id := ID(course); id != "" {
			codes = append(codes, "course_"+id)
		}
	}
	if len(codes) == 0 {
		return pagination.Items(nil), nil
	}

	p := query.New().Add("context_codes[]", codes...)
	if opts.LatestOnly {
		p.SetBool("latest_only", true)
	}
	if opts.StartDate != nil {
		p.Set("start_date", opts.StartDate.UTC().Format("2006-01-02"))
	}
	p.SetInt("per_page", c.config.PageSize)
	return c.fetch(ctx, announcementsSchema, "/announcements", p, pagination.Options{})
}

// ListCalendarEvents lists the caller's calendar events.
func (c *Client) ListCalendarEvents(ctx context.Context) (pagination.Result, error) {
	return c.fetcher.Fetch(ctx, "/calendar_events", pagination.Options{})
}

// ListTodoItems lists the caller's todo items.
func (c *Client) ListTodoItems(ctx context.Context) (pagination.Result, error) {
	return c.fetcher.Fetch(ctx, "/users/self/todo", pagination.Options{})
}

// GetSelf returns the caller's user profile.
func (c *Client) GetSelf(ctx context.Context) (pagination.Result, error) {
	return c.fetcher.Fetch(ctx, "/users/self", pagination.Options{})
}

// ListConversations lists the caller's inbox conversations.
func (c *Client) ListConversations(ctx context.Context) (pagination.Result, error) {
	return c.fetch(ctx, listSchema, "/conversations", c.pageSized(), pagination.Options{})
}

// ListCourseModules lists the modules of one course.
func (c *Client) ListCourseModules(ctx context.Context, courseID string) (pagination.Result, error) {
	return c.fetch(ctx, listSchema, coursePath(courseID, "modules"), c.pageSized(), pagination.Options{})
}

// ListDiscussionTopics lists the discussion topics of one course.
func (c *Client) ListDiscussionTopics(ctx context.Context, courseID string) (pagination.Result, error) {
	return c.fetch(ctx, listSchema, coursePath(courseID, "discussion_topics"), c.pageSized(), pagination.Options{})
}

// ListCourseFiles lists the files of one course.
func (c *Client) ListCourseFiles(ctx context.Context, courseID string) (pagination.Result, error) {
	return c.fetch(ctx, listSchema, coursePath(courseID, "files"), c.pageSized(), pagination.Options{})
}

// ListCoursePages lists the wiki pages of one course.
func (c *Client) ListCoursePages(ctx context.Context, courseID string) (pagination.Result, error) {
	return c.fetch(ctx, listSchema, coursePath(courseID, "pages"), c.pageSized(), pagination.Options{})
}

// ListCourseEnrollments lists the caller's own enrollments in one course,
// which carry the grade summary.
func (c *Client) ListCourseEnrollments(ctx context.Context, courseID string) (pagination.Result, error) {
	p := query.New().Set("user_id", "self").SetInt("per_page", c.config.PageSize)
	return c.fetch(ctx, enrollmentsSchema, coursePath(courseID, "enrollments"), p, pagination.Options{})
}

func coursePath(courseID, sub string) string {
	return "/courses/" + url.PathEscape(courseID) + "/" + sub
}
