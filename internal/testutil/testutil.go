// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

// LoadTestEnv maps TEST_DATABASE_URL from .env.test onto DATABASE_URL and
// reports whether a database is configured.
func LoadTestEnv(t *testing.T) bool {
	t.Helper()

	if os.Getenv("DATABASE_URL") != "" {
		return true
	}

	envPath := findUp(".env.test", 5)
	if envPath == "" {
		return false
	}

	envMap, err := godotenv.Read(envPath)
	if err != nil {
		t.Logf("Failed to read %s: %v", envPath, err)
		return false
	}

	url := envMap["TEST_DATABASE_URL"]
	if url == "" {
		return false
	}
	t.Setenv("DATABASE_URL", url)
	return true
}

// RequireDatabase skips the test unless a PostgreSQL test database is configured
func RequireDatabase(t *testing.T) {
	t.Helper()
	if !LoadTestEnv(t) {
		t.Skip("DATABASE_URL not set and no TEST_DATABASE_URL in .env.test")
	}
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}

// findUp looks for name in the working directory and up to levels parents
func findUp(name string, levels int) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for range levels + 1 {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
