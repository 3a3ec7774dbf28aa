package app

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Report is everything a run produces.
type Report struct {
	Model string        `json:"model" yaml:"model"`
	Cases []*CaseResult `json:"cases" yaml:"cases"`
}

// CaseResult holds the outcome of one case. Outputs are present even when the
// run failed, so a failed point shows the NaN its subproblems left behind.
type CaseResult struct {
	Name     string     `json:"name" yaml:"name"`
	Outputs  []Variable `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Totals   []Total    `json:"totals,omitempty" yaml:"totals,omitempty"`
	Partials []Partial  `json:"partials,omitempty" yaml:"partials,omitempty"`
	Error    string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Variable is the value of one output.
type Variable struct {
	Name  string   `json:"name" yaml:"name"`
	Units string   `json:"units,omitempty" yaml:"units,omitempty"`
	Shape []int    `json:"shape" yaml:"shape,flow"`
	Value []Number `json:"value" yaml:"value,flow"`
}

// Total is one block of total derivatives, row per element of Of.
type Total struct {
	Of   string     `json:"of" yaml:"of"`
	Wrt  string     `json:"wrt" yaml:"wrt"`
	Rows [][]Number `json:"rows" yaml:"rows,flow"`
}

// Partial summarizes one partial derivative check.
type Partial struct {
	Component   string `json:"component" yaml:"component"`
	Of          string `json:"of" yaml:"of"`
	Wrt         string `json:"wrt" yaml:"wrt"`
	MaxAbsError Number `json:"max_abs_error" yaml:"max_abs_error"`
}

// Number is a float64 that JSON-encodes NaN and infinities as strings.
type Number float64

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return json.Marshal(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return json.Marshal(f)
}

func numbers(fs []float64) []Number {
	out := make([]Number, len(fs))
	for i, f := range fs {
		out[i] = Number(f)
	}
	return out
}

func writeReport(w io.Writer, format string, r *Report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		return writeText(w, r)
	default:
		return fmt.Errorf("unknown format '%s'", format)
	}
}

func formatNumbers(ns []Number) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.FormatFloat(float64(n), 'g', 10, 64)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func writeText(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, c := range r.Cases {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "case %s (model %s)\n", c.Name, r.Model)
		for _, v := range c.Outputs {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", v.Name, formatNumbers(v.Value), v.Units)
		}
		for _, t := range c.Totals {
			rows := make([]string, len(t.Rows))
			for j, row := range t.Rows {
				rows[j] = formatNumbers(row)
			}
			fmt.Fprintf(tw, "  d(%s)/d(%s)\t%s\t\n", t.Of, t.Wrt, strings.Join(rows, " "))
		}
		for _, p := range c.Partials {
			fmt.Fprintf(tw, "  %s: d(%s)/d(%s)\tmax abs error %g\t\n", p.Component, p.Of, p.Wrt, float64(p.MaxAbsError))
		}
		if c.Error != "" {
			fmt.Fprintf(tw, "  error: %s\n", c.Error)
		}
	}
	return tw.Flush()
}
