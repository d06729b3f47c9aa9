package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useTempStore points the CLI at a fresh SQLite file with a cheap hash cost.
func useTempStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "tarms.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", path)
	t.Setenv("BCRYPT_COST", "4")
	return path
}

func TestRun_CreatesAdmin(t *testing.T) {
	path := useTempStore(t)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	args := []string{"-user", "boss", "-email", "boss@example.com", "-role", "admin", "-password", "Secret123"}
	require.NoError(t, run(args, new(bytes.Buffer), stdout, stderr))

	assert.Contains(t, stdout.String(), "User boss created successfully with ID 1 (role admin)")
	assert.FileExists(t, path)
}

func TestRun_DuplicateUser(t *testing.T) {
	useTempStore(t)
	args := []string{"-user", "boss", "-email", "boss@example.com", "-password", "Secret123"}

	require.NoError(t, run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)))

	err := run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Username or email already exists")
}

func TestRun_MissingFlags(t *testing.T) {
	stdout := new(bytes.Buffer)

	err := run([]string{"-user", "boss"}, new(bytes.Buffer), stdout, new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required flags")
	assert.Contains(t, stdout.String(), "Usage:")
}

func TestRun_InvalidRole(t *testing.T) {
	args := []string{"-user", "boss", "-email", "boss@example.com", "-role", "root", "-password", "Secret123"}
	err := run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid role "root"`)
}

func TestRun_InteractivePassword(t *testing.T) {
	useTempStore(t)
	stdout := new(bytes.Buffer)
	stdin := bytes.NewBufferString("Secret123\n")

	args := []string{"-user", "clerk", "-email", "clerk@example.com"}
	require.NoError(t, run(args, stdin, stdout, new(bytes.Buffer)))

	assert.Contains(t, stdout.String(), "Password: ")
	assert.Contains(t, stdout.String(), "User clerk created successfully")
}

func TestRun_EmptyPassword(t *testing.T) {
	args := []string{"-user", "clerk", "-email", "clerk@example.com"}
	err := run(args, bytes.NewBufferString("\n"), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password cannot be empty")
}

func TestRun_RejectsShortPassword(t *testing.T) {
	args := []string{"-user", "clerk", "-email", "clerk@example.com", "-password", "short", "-dry-run"}
	err := run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Password must be at least 8 characters long")
}

func TestRun_DryRunTouchesNothing(t *testing.T) {
	path := useTempStore(t)
	stdout := new(bytes.Buffer)

	args := []string{"-user", "clerk", "-email", "clerk@example.com", "-password", "Secret123", "-dry-run"}
	require.NoError(t, run(args, new(bytes.Buffer), stdout, new(bytes.Buffer)))

	assert.Contains(t, stdout.String(), "Dry run")
	assert.NoFileExists(t, path)
}

func TestRun_InvalidFlag(t *testing.T) {
	err := run([]string{"-invalid"}, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flag provided but not defined")
}
