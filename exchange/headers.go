// File: exchange/headers.go
// Author: momentics <momentics@gmail.com>

package exchange

import "strings"

// Headers is an ordered, reusable list of header fields. Names compare
// case-insensitively; duplicates are kept in arrival order.
type Headers struct {
	names  []string
	values []string
}

// Len returns the number of fields.
func (h *Headers) Len() int { return len(h.names) }

// Name returns the i-th field name.
func (h *Headers) Name(i int) string { return h.names[i] }

// Value returns the i-th field value.
func (h *Headers) Value(i int) string { return h.values[i] }

// Add appends a field.
func (h *Headers) Add(name, value string) {
	h.names = append(h.names, name)
	h.values = append(h.values, value)
}

// Set replaces every field named name with a single one.
func (h *Headers) Set(name, value string) {
	h.Remove(name)
	h.Add(name, value)
}

// Get returns the first value of name.
func (h *Headers) Get(name string) (string, bool) {
	for i, n := range h.names {
		if strings.EqualFold(n, name) {
			return h.values[i], true
		}
	}
	return "", false
}

// Values returns every value of name.
func (h *Headers) Values(name string) []string {
	var out []string
	for i, n := range h.names {
		if strings.EqualFold(n, name) {
			out = append(out, h.values[i])
		}
	}
	return out
}

// Remove deletes every field named name.
func (h *Headers) Remove(name string) {
	j := 0
	for i, n := range h.names {
		if strings.EqualFold(n, name) {
			continue
		}
		h.names[j] = n
		h.values[j] = h.values[i]
		j++
	}
	clear(h.names[j:])
	clear(h.values[j:])
	h.names = h.names[:j]
	h.values = h.values[:j]
}

// Reset empties the list keeping its storage.
func (h *Headers) Reset() {
	clear(h.names)
	clear(h.values)
	h.names = h.names[:0]
	h.values = h.values[:0]
}
