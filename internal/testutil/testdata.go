// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// Fixture unmarshals the JSON file name from this directory into target,
// failing the test on any error.
func Fixture(t testing.TB, name string, target any) {
	t.Helper()
	_, currentFile, _, _ := runtime.Caller(0)
	data, err := os.ReadFile(filepath.Join(filepath.Dir(currentFile), name))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "fixture %s", name)
}
