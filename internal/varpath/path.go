package varpath

import (
	"fmt"
	"regexp"
	"strings"
)

// Separator joins the segments of a variable name.
const Separator = "."

// segmentRegex matches a single segment of a name, e.g. `x1` or `tip_speed`.
var segmentRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// Path is the structured representation of a dotted variable name.
type Path struct {
	Segments []string
}

// Parse creates a Path by splitting and validating a dotted name.
func Parse(name string) (*Path, error) {
	if name == "" {
		return nil, fmt.Errorf("variable name cannot be empty")
	}

	p := &Path{}
	for _, segment := range strings.Split(name, Separator) {
		if segment == "" {
			return nil, fmt.Errorf("variable name %q contains an empty segment", name)
		}
		if !segmentRegex.MatchString(segment) {
			return nil, fmt.Errorf("invalid segment %q in variable name %q", segment, name)
		}
		p.Segments = append(p.Segments, segment)
	}
	return p, nil
}

// Validate reports whether name is a well-formed dotted name.
func Validate(name string) error {
	_, err := Parse(name)
	return err
}

// String serializes the Path back into its dotted form.
func (p *Path) String() string {
	if p == nil {
		return ""
	}
	return strings.Join(p.Segments, Separator)
}

// Last returns the final segment, which is the variable's local name.
func (p *Path) Last() string {
	if p == nil || len(p.Segments) == 0 {
		return ""
	}
	return p.Segments[len(p.Segments)-1]
}

// Join concatenates name parts, skipping empty ones. The root system of a
// model has an empty name, so Join("", "x") is "x".
func Join(parts ...string) string {
	var sb strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(Separator)
		}
		sb.WriteString(part)
	}
	return sb.String()
}

// HasSuffix reports whether name ends with suffix on a segment boundary:
// `y.x1.value` has the suffixes `value`, `x1.value` and `y.x1.value`, but not
// `alue`.
func HasSuffix(name, suffix string) bool {
	if suffix == "" {
		return false
	}
	if name == suffix {
		return true
	}
	return strings.HasSuffix(name, Separator+suffix)
}
