// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// AsInts flattens a levels snapshot into int64s for readable comparisons.
func AsInts(levels [][]*big.Int) [][]int64 {
	out := make([][]int64, len(levels))
	for k, level := range levels {
		out[k] = make([]int64, len(level))
		for i, v := range level {
			out[k][i] = v.Int64()
		}
	}
	return out
}

// AssertLevels fails the test with a diff when got does not hold want.
func AssertLevels(t testing.TB, want [][]int64, got [][]*big.Int) bool {
	t.Helper()
	if diff := cmp.Diff(want, AsInts(got)); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
		return false
	}
	return true
}
