// Package query builds upstream query strings as ordered key/value lists
// and validates them against a fixed per-resource schema.
package query

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

type entry struct {
	key   string
	value string
}

// Params is an ordered, multi-valued set of query parameters.
// Keys keep the order in which they were first added so that the encoded
// path is deterministic and readable in logs.
type Params struct {
	entries []entry
}

// New returns an empty parameter list.
func New() *Params {
	return &Params{}
}

// Set replaces every value of key with value.
func (p *Params) Set(key, value string) *Params {
	p.Del(key)
	p.entries = append(p.entries, entry{key: key, value: value})
	return p
}

// SetInt is Set for integer values.
func (p *Params) SetInt(key string, value int) *Params {
	return p.Set(key, strconv.Itoa(value))
}

// SetBool is Set for boolean values.
func (p *Params) SetBool(key string, value bool) *Params {
	return p.Set(key, strconv.FormatBool(value))
}

// Add appends values to key, keeping existing values.
// Array parameters use the bracket form, e.g. "include[]".
func (p *Params) Add(key string, values ...string) *Params {
	for _, v := range values {
		p.entries = append(p.entries, entry{key: key, value: v})
	}
	return p
}

// Del removes key.
func (p *Params) Del(key string) *Params {
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e.key != key {
			kept = append(kept, e)
		}
	}
	p.entries = kept
	return p
}

// Get returns the first value of key.
func (p *Params) Get(key string) string {
	for _, e := range p.entries {
		if e.key == key {
			return e.value
		}
	}
	return ""
}

// Values returns every value of key in insertion order.
func (p *Params) Values(key string) []string {
	var out []string
	for _, e := range p.entries {
		if e.key == key {
			out = append(out, e.value)
		}
	}
	return out
}

// Keys returns the distinct keys in insertion order.
func (p *Params) Keys() []string {
	seen := make(map[string]bool, len(p.entries))
	var keys []string
	for _, e := range p.entries {
		if !seen[e.key] {
			seen[e.key] = true
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Len returns the number of key/value pairs.
func (p *Params) Len() int {
	return len(p.entries)
}

// Encode serializes the parameters. Brackets in keys are kept literal
// because the upstream expects "include[]=term", not "include%5B%5D=term".
func (p *Params) Encode() string {
	if len(p.entries) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		key := strings.ReplaceAll(url.QueryEscape(e.key), "%5B%5D", "[]")
		parts = append(parts, key+"="+url.QueryEscape(e.value))
	}
	return strings.Join(parts, "&")
}

// Path joins a resource path and the encoded parameters.
func Path(resource string, p *Params) string {
	if p == nil || p.Len() == 0 {
		return resource
	}
	sep := "?"
	if strings.Contains(resource, "?") {
		sep = "&"
	}
	return resource + sep + p.Encode()
}

// Schema lists the keys a resource accepts.
type Schema struct {
	Resource string
	Allowed  []string
}

// Validate reports the first key that the schema does not allow.
func (s Schema) Validate(p *Params) error {
	if p == nil {
		return nil
	}
	allowed := make(map[string]bool, len(s.Allowed))
	for _, k := range s.Allowed {
		allowed[k] = true
	}

	var unknown []string
	for _, k := range p.Keys() {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%s: unsupported query parameters %v", s.Resource, unknown)
	}
	return nil
}

// Build validates p against s and returns the full path.
func (s Schema) Build(resource string, p *Params) (string, error) {
	if err := s.Validate(p); err != nil {
		return "", err
	}
	return Path(resource, p), nil
}
