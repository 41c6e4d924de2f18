package registry

import (
	"sort"
	"strings"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
)

// Filters narrow a catalog search. Zero values match everything.
type Filters struct {
	// Query matches against id, name, and description, case-insensitive.
	Query    string
	Category string
	Type     plugin.Type
	Status   plugin.Status
	// Page is 1-based; PerPage defaults to 20.
	Page    int
	PerPage int
}

// Page is one page of search results.
type Page struct {
	Entries []*Entry
	Total   int
	Page    int
	PerPage int
}

const defaultPerPage = 20

// Search returns the plugins matching the filters, paged and sorted by id.
func (r *Registry) Search(filters Filters) Page {
	r.mu.RLock()
	matched := make([]*Entry, 0)
	for _, entry := range r.plugins {
		if matches(entry, filters) {
			matched = append(matched, entry.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID() < matched[j].ID() })

	page := filters.Page
	if page < 1 {
		page = 1
	}
	perPage := filters.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}

	total := len(matched)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return Page{
		Entries: matched[start:end],
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}
}

func matches(entry *Entry, filters Filters) bool {
	meta := entry.Plugin
	if meta == nil {
		return false
	}
	if filters.Category != "" && meta.Category != filters.Category {
		return false
	}
	if filters.Type != "" && meta.Type != filters.Type {
		return false
	}
	if filters.Status != "" && entry.Status != filters.Status {
		return false
	}
	if filters.Query != "" {
		q := strings.ToLower(filters.Query)
		if !strings.Contains(strings.ToLower(meta.ID), q) &&
			!strings.Contains(strings.ToLower(meta.Name), q) &&
			!strings.Contains(strings.ToLower(meta.Description), q) {
			return false
		}
	}
	return true
}
