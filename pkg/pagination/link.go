package pagination

import (
	"net/url"
	"strings"
)

// ParseNextLink extracts the rel="next" target from a Link header such as
//
//	<https://lms.example.edu/api/v1/courses?page=2>; rel="next", <...>; rel="last"
//
// It reports false when there is no next entry or when that entry is
// malformed (missing angle brackets, unparsable or relative URL).
func ParseNextLink(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	for _, entry := range splitLinks(header) {
		entry = strings.TrimSpace(entry)
		if !strings.HasPrefix(entry, "<") {
			if hasRel(strings.Split(entry, ";")[1:], "next") {
				return "", false
			}
			continue
		}

		end := strings.IndexByte(entry, '>')
		if end < 0 {
			return "", false
		}
		target, params := entry[1:end], entry[end+1:]
		if !hasRel(strings.Split(params, ";"), "next") {
			continue
		}

		u, err := url.Parse(target)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return "", false
		}
		return target, true
	}

	return "", false
}

// splitLinks splits a Link header into its entries. Commas inside <...>
// belong to the URI and do not separate entries.
func splitLinks(header string) []string {
	var entries []string
	inURI := false
	last := 0
	for i := 0; i < len(header); i++ {
		switch header[i] {
		case '<':
			inURI = true
		case '>':
			inURI = false
		case ',':
			if !inURI {
				entries = append(entries, header[last:i])
				last = i + 1
			}
		}
	}
	return append(entries, header[last:])
}

// hasRel reports whether one of the link params is rel=<want>. rel may
// carry several space separated values.
func hasRel(params []string, want string) bool {
	for _, p := range params {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		for _, rel := range strings.Fields(value) {
			if strings.EqualFold(rel, want) {
				return true
			}
		}
	}
	return false
}
