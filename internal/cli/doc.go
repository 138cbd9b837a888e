// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It merges
// flags with an optional HCL build plan and translates the result into the
// application's internal configuration.
package cli
