package dmdb

import (
	"strings"
	"testing"

	"github.com/SimonWaldherr/dmdb/internal/dpi/litedpi"
)

// SQLite spellings of the identity queries.
const (
	liteIdentCurrentSQL = "SELECT (SELECT seq FROM sqlite_sequence WHERE name = '%s')"
	liteLastInsertIDSQL = "SELECT last_insert_rowid()"
)

func liteConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Server:          "mem://" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()),
		User:            "SYSDBA",
		Password:        "SYSDBA",
		IdentCurrentSQL: liteIdentCurrentSQL,
		LastInsertIDSQL: liteLastInsertIDSQL,
		ConnLostCodes:   []int32{litedpi.CodeConnectionLost},
	}
}

// newLite returns a Conn over a fresh in-process database and the native
// interface behind it.
func newLite(t *testing.T, mutate ...func(*Config)) (*Conn, *litedpi.API) {
	t.Helper()
	api := litedpi.New()
	cfg := liteConfig(t)
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := Connect(api, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		api.Close()
	})
	return c, api
}

func mustExec(t *testing.T, c *Conn, query string, args ...any) {
	t.Helper()
	if err := c.Execute(query, args...); err != nil {
		t.Fatalf("Execute(%q): %v", query, err)
	}
}

func countRows(t *testing.T, c *Conn, table string) int64 {
	t.Helper()
	var n int64
	err := c.QueryRow("SELECT COUNT(*) AS n FROM "+table, func(r *Row) error {
		return r.Scan(&n)
	})
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func wantKind(t *testing.T, err error, k Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", k)
	}
	if KindOf(err) != k {
		t.Fatalf("expected %v, got %v (%v)", k, KindOf(err), err)
	}
}
