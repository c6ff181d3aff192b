package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/stanstork/autorun-api/internal/models"
)

// Filter is a parsed "column=eq.value" binding filter.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter parses a binding filter. An empty string yields a nil filter.
func ParseFilter(raw string) (*Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	column, rest, ok := strings.Cut(raw, "=")
	if !ok || column == "" {
		return nil, errors.Errorf("invalid filter %q", raw)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return nil, errors.Errorf("unsupported filter operator in %q", raw)
	}
	return &Filter{Column: column, Value: value}, nil
}

// Match reports whether record has Column equal to Value.
func (f *Filter) Match(record map[string]interface{}) bool {
	if f == nil {
		return true
	}
	v, ok := record[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

// binding is a ChangeBinding compiled for matching.
type binding struct {
	table  string
	events map[string]struct{}
	filter *Filter
}

func compileBindings(in []models.ChangeBinding) ([]binding, error) {
	out := make([]binding, 0, len(in))
	for _, b := range in {
		if strings.TrimSpace(b.Table) == "" {
			return nil, errors.New("binding table is required")
		}
		filter, err := ParseFilter(b.Filter)
		if err != nil {
			return nil, err
		}
		events := map[string]struct{}{}
		for _, e := range b.Events {
			e = strings.ToUpper(strings.TrimSpace(e))
			if e == "*" {
				events = map[string]struct{}{}
				break
			}
			events[e] = struct{}{}
		}
		out = append(out, binding{table: b.Table, events: events, filter: filter})
	}
	return out, nil
}

func (b binding) match(evt models.ChangeEvent) bool {
	if evt.Table != b.table {
		return false
	}
	if len(b.events) > 0 {
		if _, ok := b.events[evt.Type]; !ok {
			return false
		}
	}
	if b.filter == nil {
		return true
	}
	var record map[string]interface{}
	if err := json.Unmarshal(evt.Record, &record); err != nil {
		return false
	}
	return b.filter.Match(record)
}

func matchAny(bindings []binding, evt models.ChangeEvent) bool {
	for _, b := range bindings {
		if b.match(evt) {
			return true
		}
	}
	return false
}
