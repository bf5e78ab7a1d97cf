package migration

import (
	"strings"
	"testing"
	"time"
)

func TestSQLiteConfig_DSN(t *testing.T) {
	cfg := DefaultSQLiteConfig("/tmp/safehome.db")
	dsn := cfg.DSN()
	for _, want := range []string{
		"/tmp/safehome.db?",
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(1)",
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
	} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("expected %q in DSN %q", want, dsn)
		}
	}

	cfg.Path = "file:/tmp/safehome.db?cache=shared"
	if dsn := cfg.DSN(); !strings.HasPrefix(dsn, "file:/tmp/safehome.db?cache=shared&_pragma=") {
		t.Fatalf("expected pragmas appended to existing query, got %q", dsn)
	}
	if got := cfg.filePath(); got != "/tmp/safehome.db" {
		t.Fatalf("unexpected file path %q", got)
	}
}

func TestSQLiteConfig_Validate(t *testing.T) {
	cases := map[string]SQLiteConfig{
		"empty path":       {},
		"negative timeout": {Path: "a.db", BusyTimeout: -time.Second},
		"bad journal":      {Path: "a.db", JournalMode: "SOMETIMES"},
		"bad synchronous":  {Path: "a.db", Synchronous: "MAYBE"},
		"negative pool":    {Path: "a.db", MaxOpenConns: -1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	if err := DefaultSQLiteConfig("a.db").Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}
