// Package testutil provides shared test helpers for databases, config files and catalog fixtures.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/at-ishikawa/readingquest/internal/catalog"
	"github.com/at-ishikawa/readingquest/internal/clock"
	"github.com/at-ishikawa/readingquest/internal/config"
	"github.com/at-ishikawa/readingquest/internal/database"
)

// Epoch is the start time of fake clocks in tests: a Monday morning in UTC.
var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// NewClock returns a fake clock starting at Epoch.
func NewClock() *clock.Fake {
	return clock.NewFake(Epoch)
}

// NewSQLiteDB opens a migrated SQLite database inside t.TempDir().
func NewSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "readingquest.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	_, err = database.Migrate(context.Background(), db)
	require.NoError(t, err)
	return db
}

// Environment variables naming the server databases the concurrency tests use.
// MySQL DSNs need parseTime=true.
const (
	MySQLDSNEnv    = "READINGQUEST_TEST_MYSQL_DSN"
	PostgresDSNEnv = "READINGQUEST_TEST_POSTGRES_DSN"
)

var serverDrivers = []struct {
	driver string
	envVar string
}{
	{driver: "mysql", envVar: MySQLDSNEnv},
	{driver: "postgres", envVar: PostgresDSNEnv},
}

// RunOnServerDBs runs fn in one subtest per server database. Subtests whose
// DSN variable is unset are skipped.
func RunOnServerDBs(t *testing.T, fn func(t *testing.T, db *sqlx.DB)) {
	t.Helper()
	for _, d := range serverDrivers {
		t.Run(d.driver, func(t *testing.T) {
			fn(t, NewServerDB(t, d.driver, os.Getenv(d.envVar)))
		})
	}
}

// NewServerDB opens and migrates a MySQL or Postgres database with a pool large
// enough for transactions to overlap. It skips t when dsn is empty.
func NewServerDB(t *testing.T, driver, dsn string) *sqlx.DB {
	t.Helper()
	if dsn == "" {
		t.Skipf("no %s database configured", driver)
	}

	db, err := database.Open(config.DatabaseConfig{
		Driver:       driver,
		DSN:          dsn,
		MaxOpenConns: 16,
		MaxIdleConns: 16,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	// Test packages migrate the same server in parallel; a loser sees the
	// winner's migration as applied on the next attempt.
	for attempt := 1; ; attempt++ {
		_, err = database.Migrate(context.Background(), db)
		if err == nil || attempt == 3 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	require.NoError(t, err)
	return db
}

// NewUserID returns a user ID no other test or earlier run has used, so tests
// can share a server database without cleaning it.
func NewUserID() string {
	return "test-" + uuid.NewString()
}

// BookFixture is a book with one question per segment.
type BookFixture struct {
	Book catalog.Book
	// Answers maps a segment to its answer. Segments without an entry get "answer-<segment>".
	Answers map[int]string
}

// AnswerFor returns the answer the fixture stores for segment.
func (f BookFixture) AnswerFor(segment int) string {
	if answer, ok := f.Answers[segment]; ok {
		return answer
	}
	return fmt.Sprintf("answer-%d", segment)
}

// NewBook returns a fixture with segments expected segments of 30 pages each.
func NewBook(id string, segments int) BookFixture {
	return BookFixture{
		Book: catalog.Book{
			ID:               id,
			Title:            "Book " + id,
			ExpectedSegments: segments,
			TotalPages:       segments * 30,
			TotalWords:       segments * 7500,
		},
	}
}

type yamlQuestion struct {
	ID      string `yaml:"id"`
	Segment int    `yaml:"segment"`
	Prompt  string `yaml:"prompt"`
	Answer  string `yaml:"answer"`
}

type yamlBook struct {
	ID               string         `yaml:"id"`
	Title            string         `yaml:"title"`
	ExpectedSegments int            `yaml:"expected_segments"`
	TotalPages       int            `yaml:"total_pages"`
	TotalWords       int            `yaml:"total_words"`
	Questions        []yamlQuestion `yaml:"questions"`
}

// WriteCatalog writes a catalog YAML file for the fixtures and returns its path.
func WriteCatalog(t *testing.T, dir string, books ...BookFixture) string {
	t.Helper()

	var entries []yamlBook
	for _, fixture := range books {
		entry := yamlBook{
			ID:               fixture.Book.ID,
			Title:            fixture.Book.Title,
			ExpectedSegments: fixture.Book.ExpectedSegments,
			TotalPages:       fixture.Book.TotalPages,
			TotalWords:       fixture.Book.TotalWords,
		}
		for segment := 1; segment <= fixture.Book.ExpectedSegments; segment++ {
			entry.Questions = append(entry.Questions, yamlQuestion{
				ID:      fmt.Sprintf("%s-q%d", fixture.Book.ID, segment),
				Segment: segment,
				Prompt:  fmt.Sprintf("What happens in segment %d?", segment),
				Answer:  fixture.AnswerFor(segment),
			})
		}
		entries = append(entries, entry)
	}

	content, err := yaml.Marshal(map[string]any{"books": entries})
	require.NoError(t, err)
	path := filepath.Join(dir, "catalog.yml")
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

// NewCatalog writes the fixtures to a temporary file and loads them.
func NewCatalog(t *testing.T, books ...BookFixture) *catalog.YAMLCatalog {
	t.Helper()

	c, err := catalog.LoadYAMLCatalog(WriteCatalog(t, t.TempDir(), books...))
	require.NoError(t, err)
	return c
}

// SetupTestConfig writes a config file using SQLite and the given catalog file.
// Returns the path to the generated config file.
func SetupTestConfig(t *testing.T, tmpDir, catalogFile string) string {
	t.Helper()

	configContent := fmt.Sprintf(`database:
  driver: sqlite3
  path: %s
catalog:
  file: %s
engine:
  cooldown: 10m
  time_zone: UTC
tasks:
  workers: 1
`,
		filepath.Join(tmpDir, "readingquest.db"),
		catalogFile,
	)

	cfgPath := filepath.Join(tmpDir, "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(configContent), 0644))
	return cfgPath
}
