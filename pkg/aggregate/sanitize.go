package aggregate

import (
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/lms"
	"github.com/microcosm-cc/bluemonday"
)

// htmlFields are the announcement fields that carry author HTML.
var htmlFields = []string{"message"}

// sanitizer strips scripts, handlers and other unsafe markup from
// upstream HTML before it reaches a browser.
type sanitizer struct {
	policy *bluemonday.Policy
}

func newSanitizer() *sanitizer {
	return &sanitizer{policy: bluemonday.UGCPolicy()}
}

func (s *sanitizer) items(items []lms.Item) {
	for _, it := range items {
		for _, f := range htmlFields {
			if v, ok := it[f].(string); ok {
				it[f] = s.policy.Sanitize(v)
			}
		}
	}
}
