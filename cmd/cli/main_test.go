package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/fantree/internal/cli"
)

func TestRun_BuildsAllStrategies(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	args := []string{"-leaves", "4", "-node-delay", "0s", "-strategy", "all", "-log-level", "warn"}
	out, logs := &bytes.Buffer{}, &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, logs, args)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(out.String(), "[[0 1 2 3],\n [1 5],\n [6]]"))
}

func TestRun_PlanFile(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	planHCL := `
tree {
  values = [1]
}
scheduler {
  node_delay = "0s"
}
`
	filePath := filepath.Join(t.TempDir(), "plan.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(planHCL), 0600), "failed to set up test file")
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, &bytes.Buffer{}, []string{"-output", "json", filePath})

	// --- Assert ---
	require.NoError(t, err)
	require.Contains(t, out.String(), `"strategy": "fully-parallel"`)
	require.Contains(t, out.String(), `"levels": [`)
}

func TestRun_InvalidPlan(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	invalidHCL := `
		tree {
			fan_in = 3
		// Missing closing brace here
	`
	filePath := filepath.Join(t.TempDir(), "plan.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0600), "failed to set up test file")

	// --- Act ---
	err := run(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, []string{"-plan", filePath})

	// --- Assert ---
	var exitErr *cli.ExitError
	require.True(t, errors.As(err, &exitErr), "expected an ExitError, got %v", err)
	require.Equal(t, 1, exitErr.Code)
	require.Contains(t, exitErr.Message, "failed to parse")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	errW := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), &bytes.Buffer{}, errW, []string{"-h"})

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, errW.String(), "Usage:", "Expected help text to be printed to the error writer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	// --- Act ---
	err := run(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, []string{"--this-is-not-a-valid-flag"})

	// --- Assert ---
	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}
