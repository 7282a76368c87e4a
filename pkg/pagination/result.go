package pagination

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Item is one opaque upstream record.
type Item = map[string]any

var (
	// ErrPermissionDenied is returned by List for a Denied result.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnexpectedObject is returned by List when a list endpoint
	// answered with a single object.
	ErrUnexpectedObject = errors.New("expected a list, got a single object")
)

// Kind tags the shape of a Result.
type Kind int

const (
	KindItems Kind = iota
	KindSingle
	KindDenied
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindItems:
		return "items"
	case KindSingle:
		return "single"
	case KindDenied:
		return "denied"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Fetch. Exactly one of the payload fields is
// meaningful, selected by Kind.
type Result struct {
	Kind Kind

	// Items holds the concatenated pages (KindItems). Never nil for KindItems.
	Items []Item

	// Single holds a non-array body (KindSingle).
	Single Item

	// Status and Message describe KindDenied and KindFailed.
	Status  int
	Message string

	// Pages is the number of pages read; Truncated is set when the page
	// cap stopped a chain that still had a next link.
	Pages     int
	Truncated bool
}

// Items builds a KindItems result.
func Items(items []Item) Result {
	if items == nil {
		items = []Item{}
	}
	return Result{Kind: KindItems, Items: items}
}

// Single builds a KindSingle result.
func Single(item Item) Result {
	return Result{Kind: KindSingle, Single: item}
}

// Denied builds the permission denied marker.
func Denied() Result {
	return Result{Kind: KindDenied, Status: http.StatusForbidden, Message: "Permission denied"}
}

// Failed builds a failure marker. status may be 0 for transport errors.
func Failed(status int, message string) Result {
	return Result{Kind: KindFailed, Status: status, Message: message}
}

// List returns the items of a KindItems result and an error for every
// other kind.
func (r Result) List() ([]Item, error) {
	switch r.Kind {
	case KindItems:
		return r.Items, nil
	case KindDenied:
		return nil, ErrPermissionDenied
	case KindSingle:
		return nil, ErrUnexpectedObject
	case KindFailed:
		return nil, errors.New(r.Message)
	default:
		return nil, errors.New("unknown result kind")
	}
}

// Object returns the body of a KindSingle result.
func (r Result) Object() (Item, error) {
	switch r.Kind {
	case KindSingle:
		return r.Single, nil
	case KindDenied:
		return nil, ErrPermissionDenied
	case KindFailed:
		return nil, errors.New(r.Message)
	default:
		return nil, errors.New("expected a single object, got a list")
	}
}

type errorMarker struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"`
}

// MarshalJSON renders the result the way the upstream would have: an
// array, an object, or {"error", "status"}.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindItems:
		if r.Items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.Items)
	case KindSingle:
		return json.Marshal(r.Single)
	default:
		return json.Marshal(errorMarker{Error: r.Message, Status: r.Status})
	}
}
