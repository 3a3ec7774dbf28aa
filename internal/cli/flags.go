package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// listFlag collects every occurrence of a repeatable flag. A single
// occurrence may also hold a comma-separated list.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("empty name in %q", s)
		}
		*l = append(*l, part)
	}
	return nil
}

// valuesFlag collects `name=value` and `name=v1,v2,...` assignments.
type valuesFlag map[string][]float64

func (v valuesFlag) String() string {
	parts := make([]string, 0, len(v))
	for name, vals := range v {
		parts = append(parts, fmt.Sprintf("%s=%v", name, vals))
	}
	return strings.Join(parts, " ")
}

func (v valuesFlag) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	var vals []float64
	for _, field := range strings.Split(raw, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return fmt.Errorf("value of '%s': %w", name, err)
		}
		vals = append(vals, f)
	}
	v[name] = vals
	return nil
}
