package lms

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/pagination"
)

type fetchCall struct {
	path string
	opts pagination.Options
}

// recordingFetcher records every fetch and answers with an empty list.
type recordingFetcher struct {
	mu    sync.Mutex
	calls []fetchCall
}

func (f *recordingFetcher) Fetch(ctx context.Context, path string, opts pagination.Options) (pagination.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{path: path, opts: opts})
	return pagination.Items(nil), nil
}

func (f *recordingFetcher) only(t *testing.T) fetchCall {
	t.Helper()
	if len(f.calls) != 1 {
		t.Fatalf("fetch calls = %d, want 1", len(f.calls))
	}
	return f.calls[0]
}

func TestListCourses_QueryShaping(t *testing.T) {
	tests := []struct {
		name string
		opts CourseOptions
		want string
	}{
		{
			name: "plain",
			opts: CourseOptions{},
			want: "/courses?state[]=available&per_page=50",
		},
		{
			name: "all enrichment",
			opts: CourseOptions{IncludeTerm: true, IncludeTeachers: true, IncludeTotalScores: true},
			want: "/courses?state[]=available&per_page=50&include[]=term&include[]=teachers&include[]=total_scores",
		},
		{
			name: "term only",
			opts: CourseOptions{IncludeTerm: true},
			want: "/courses?state[]=available&per_page=50&include[]=term",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &recordingFetcher{}
			c := New(f, DefaultConfig())

			if _, err := c.ListCourses(context.Background(), tt.opts); err != nil {
				t.Fatalf("ListCourses() error = %v", err)
			}
			if got := f.only(t).path; got != tt.want {
				t.Errorf("path = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListCourseAssignments_QueryShaping(t *testing.T) {
	after := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2025, 2, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		opts AssignmentOptions
		want string
	}{
		{
			name: "defaults",
			opts: AssignmentOptions{},
			want: "/courses/7/assignments?per_page=50&order_by=due_at",
		},
		{
			name: "window and submission",
			opts: AssignmentOptions{DueAfter: &after, DueBefore: &before, IncludeSubmission: true},
			want: "/courses/7/assignments?per_page=50&order_by=due_at" +
				"&due_after=2025-01-01T00%3A00%3A00Z&due_before=2025-02-01T12%3A30%3A00Z&include[]=submission",
		},
		{
			name: "custom order",
			opts: AssignmentOptions{OrderBy: "position"},
			want: "/courses/7/assignments?per_page=50&order_by=position",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &recordingFetcher{}
			c := New(f, DefaultConfig())

			if _, err := c.ListCourseAssignments(context.Background(), "7", tt.opts); err != nil {
				t.Fatalf("ListCourseAssignments() error = %v", err)
			}
			if got := f.only(t).path; got != tt.want {
				t.Errorf("path = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListAnnouncements_NoCoursesNoRequest(t *testing.T) {
	tests := []struct {
		name    string
		courses []Item
	}{
		{"nil", nil},
		{"empty", []Item{}},
		{"courses without ids", []Item{{"name": "orphan"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &recordingFetcher{}
			c := New(f, DefaultConfig())

			res, err := c.ListAnnouncements(context.Background(), tt.courses, AnnouncementOptions{LatestOnly: true})
			if err != nil {
				t.Fatalf("ListAnnouncements() error = %v", err)
			}
			items, err := res.List()
			if err != nil || len(items) != 0 {
				t.Errorf("List() = %v, %v, want empty", items, err)
			}
			if len(f.calls) != 0 {
				t.Errorf("fetch calls = %d, want 0", len(f.calls))
			}
		})
	}
}

func TestListAnnouncements_ContextCodes(t *testing.T) {
	f := &recordingFetcher{}
	c := New(f, Config{PageSize: 20})
	start := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

	courses := []Item{{"id": json.Number("101")}, {"id": json.Number("202")}}
	if _, err := c.ListAnnouncements(context.Background(), courses,
		AnnouncementOptions{LatestOnly: true, StartDate: &start}); err != nil {
		t.Fatalf("ListAnnouncements() error = %v", err)
	}

	want := "/announcements?context_codes[]=course_101&context_codes[]=course_202" +
		"&latest_only=true&start_date=2025-01-15&per_page=20"
	if got := f.only(t).path; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
}

func TestListCourseSubmissions_IsSilent(t *testing.T) {
	f := &recordingFetcher{}
	c := New(f, DefaultConfig())

	if _, err := c.ListCourseSubmissions(context.Background(), "9"); err != nil {
		t.Fatalf("ListCourseSubmissions() error = %v", err)
	}

	call := f.only(t)
	if !call.opts.SilentErrors {
		t.Error("course submissions must be fetched with SilentErrors")
	}
	if call.path != "/courses/9/students/submissions?per_page=50" {
		t.Errorf("path = %q", call.path)
	}
}

func TestPassthroughPaths(t *testing.T) {
	tests := []struct {
		name string
		call func(c *Client) (pagination.Result, error)
		want string
	}{
		{"self", func(c *Client) (pagination.Result, error) { return c.GetSelf(context.Background()) }, "/users/self"},
		{"calendar", func(c *Client) (pagination.Result, error) { return c.ListCalendarEvents(context.Background()) }, "/calendar_events"},
		{"todo", func(c *Client) (pagination.Result, error) { return c.ListTodoItems(context.Background()) }, "/users/self/todo"},
		{"submissions", func(c *Client) (pagination.Result, error) {
			return c.ListAssignmentSubmissions(context.Background(), "3", "44")
		}, "/courses/3/assignments/44/submissions"},
		{"conversations", func(c *Client) (pagination.Result, error) { return c.ListConversations(context.Background()) }, "/conversations?per_page=50"},
		{"modules", func(c *Client) (pagination.Result, error) { return c.ListCourseModules(context.Background(), "3") }, "/courses/3/modules?per_page=50"},
		{"discussions", func(c *Client) (pagination.Result, error) { return c.ListDiscussionTopics(context.Background(), "3") }, "/courses/3/discussion_topics?per_page=50"},
		{"files", func(c *Client) (pagination.Result, error) { return c.ListCourseFiles(context.Background(), "3") }, "/courses/3/files?per_page=50"},
		{"pages", func(c *Client) (pagination.Result, error) { return c.ListCoursePages(context.Background(), "3") }, "/courses/3/pages?per_page=50"},
		{"enrollments", func(c *Client) (pagination.Result, error) { return c.ListCourseEnrollments(context.Background(), "3") }, "/courses/3/enrollments?user_id=self&per_page=50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &recordingFetcher{}
			c := New(f, DefaultConfig())

			if _, err := tt.call(c); err != nil {
				t.Fatalf("call error = %v", err)
			}
			call := f.only(t)
			if call.path != tt.want {
				t.Errorf("path = %q, want %q", call.path, tt.want)
			}
			if call.opts.SilentErrors {
				t.Error("SilentErrors should be off")
			}
		})
	}
}

func TestCoursePath_EscapesID(t *testing.T) {
	if got := coursePath("sis_course_id:A/B", "modules"); got != "/courses/sis_course_id:A%2FB/modules" {
		t.Errorf("coursePath() = %q", got)
	}
}
