// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the primary execution lifecycle: loading
// models, evaluating cases in parallel and reporting the results, decoupled
// from any specific entrypoint like a CLI.
package app
