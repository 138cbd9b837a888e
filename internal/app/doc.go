// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the build lifecycle: telemetry setup, the
// optional health server and event publisher, one build per configured
// strategy, and result printing. It is decoupled from any specific entrypoint
// like a CLI.
package app
