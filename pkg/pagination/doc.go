// Package pagination walks Link header pagination of the upstream LMS API.
//
// The upstream answers list endpoints with a JSON array and a header like
//
//	Link: <https://lms.example.edu/api/v1/courses?page=2&per_page=50>; rel="next"
//
// Fetch follows those links (stripped to paths under the configured base
// URL) and concatenates the pages into one Result.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(lmsClient, pagination.DefaultConfig())
//	res, err := fetcher.Fetch(ctx, "/courses?per_page=50", pagination.Options{})
//	courses, err := res.List()
//
// The fetcher:
//   - Stops when a page has no usable next link (missing, malformed, foreign)
//   - Stops on a link to a page already read
//   - Stops after MaxPages pages (default 50)
//   - Stops early on an empty or short page (fewer items than per_page)
//   - Returns a non-array first page verbatim as a Single result
//   - Maps 403 to a Denied result and, with SilentErrors, every failure to []
package pagination
