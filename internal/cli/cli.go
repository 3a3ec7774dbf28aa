package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"

	"github.com/specialistvlad/subgrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("subgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
subgrid - Evaluate models composed of nested subproblems.

Usage:
  subgrid [options] [MODEL_PATH]

Arguments:
  MODEL_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Examples:
  subgrid -set r=1.5 -set theta=0.3 -of z -wrt r,theta models/
  subgrid -cases cases.yaml -workers 4 -format yaml models/

Options:
`)
		flagSet.PrintDefaults()
	}

	values := valuesFlag{}
	var of, wrt listFlag
	pathFlag := flagSet.String("path", "", "Path to the model file or directory.")
	pFlag := flagSet.String("p", "", "Path to the model file or directory (shorthand).")
	modelFlag := flagSet.String("model", "", "Root model to evaluate. Defaults to the only model not used as a subproblem.")
	flagSet.Var(values, "set", "Set an input: name=value or name=v1,v2. Repeatable.")
	flagSet.Var(&of, "of", "Output to differentiate. Repeatable or comma-separated.")
	flagSet.Var(&wrt, "wrt", "Input to differentiate with respect to. Repeatable or comma-separated.")
	checkFlag := flagSet.Bool("check-partials", false, "Compare every component's partials with complex-step estimates.")
	casesFlag := flagSet.String("cases", "", "YAML file with named cases to evaluate in parallel.")
	workersFlag := flagSet.Int("workers", runtime.NumCPU(), "Number of cases evaluated concurrently.")
	formatFlag := flagSet.String("format", "text", "Result format. Options: 'text', 'json' or 'yaml'.")
	logFormatFlag := flagSet.String("log-format", "auto", "Log output format. Options: 'auto', 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *pathFlag != "" {
		path = *pathFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Model path determined.", "path", path)

	if path == "" {
		slog.Debug("No model path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		ModelPath:     path,
		ModelName:     *modelFlag,
		Values:        values,
		Of:            of,
		Wrt:           wrt,
		CheckPartials: *checkFlag,
		CasesPath:     *casesFlag,
		Format:        strings.ToLower(*formatFlag),
		LogFormat:     strings.ToLower(*logFormatFlag),
		LogLevel:      logLevel,
		WorkerCount:   *workersFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
