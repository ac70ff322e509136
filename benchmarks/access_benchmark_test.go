package benchmarks

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/SimonWaldherr/dmdb"
	"github.com/SimonWaldherr/dmdb/driver"
	"github.com/SimonWaldherr/dmdb/internal/dpi"
	"github.com/SimonWaldherr/dmdb/internal/dpi/litedpi"
)

// ═══════════════════════════════════════════════════════════════════════════
// Helpers
// ═══════════════════════════════════════════════════════════════════════════

const benchNative = "lite-bench"

var benchAPI = litedpi.New()

func init() {
	dpi.Register(benchNative, benchAPI)
}

var rowCounts = []int{100, 1000}

// payload is wide enough to need several chunks at the small chunk sizes.
var payload = strings.Repeat("0123456789abcdef", 20)

func openConn(b *testing.B, chunk int) *dmdb.Conn {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.db")
	conn, err := dmdb.Connect(benchAPI, dmdb.Config{Server: path, ChunkSize: chunk})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { conn.Close() })
	return conn
}

func fill(b *testing.B, conn *dmdb.Conn, n int) {
	b.Helper()
	if err := conn.Execute("CREATE TABLE items (id BIGINT, price DOUBLE, body VARCHAR(400))"); err != nil {
		b.Fatal(err)
	}
	err := conn.Transaction(func(tx *dmdb.Tx) error {
		st, err := tx.Prepare("INSERT INTO items VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer st.Close()
		for i := 0; i < n; i++ {
			if err := st.Exec(i, float64(i)*1.25, payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Benchmarks
// ═══════════════════════════════════════════════════════════════════════════

// BenchmarkFullScan reads every row through the chunked column decoder.
func BenchmarkFullScan(b *testing.B) {
	for _, chunk := range []int{16, 256, dmdb.DefaultChunkSize} {
		for _, rc := range rowCounts {
			b.Run(fmt.Sprintf("chunk=%d/rows=%d", chunk, rc), func(b *testing.B) {
				conn := openConn(b, chunk)
				fill(b, conn, rc)
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					rows, err := conn.Query("SELECT id, price, body FROM items")
					if err != nil {
						b.Fatal(err)
					}
					n := 0
					for {
						row, err := rows.Next()
						if err != nil {
							b.Fatal(err)
						}
						if row == nil {
							break
						}
						if _, err := row.Values(); err != nil {
							b.Fatal(err)
						}
						n++
					}
					rows.Close()
					if n != rc {
						b.Fatalf("scanned %d rows, want %d", n, rc)
					}
				}
			})
		}
	}
}

// BenchmarkBulkInsert rebinds one prepared statement per row inside a
// single transaction.
func BenchmarkBulkInsert(b *testing.B) {
	for _, rc := range rowCounts {
		b.Run(fmt.Sprintf("rows=%d", rc), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				conn := openConn(b, dmdb.DefaultChunkSize)
				b.StartTimer()
				fill(b, conn, rc)
			}
		})
	}
}

// BenchmarkPointQuery looks rows up by key with a bound parameter.
func BenchmarkPointQuery(b *testing.B) {
	conn := openConn(b, dmdb.DefaultChunkSize)
	fill(b, conn, 1000)
	if err := conn.Execute("CREATE INDEX items_id ON items (id)"); err != nil {
		b.Fatal(err)
	}
	st, err := conn.Prepare("SELECT body FROM items WHERE id = ?")
	if err != nil {
		b.Fatal(err)
	}
	defer st.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var body string
		if err := st.QueryRow(func(r *dmdb.Row) error { return r.Scan(&body) }, i%1000); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDatabaseSQL compares a scan through the dmdb database/sql driver
// with the same scan against SQLite directly.
func BenchmarkDatabaseSQL(b *testing.B) {
	scan := func(b *testing.B, db *sql.DB) {
		b.Helper()
		rows, err := db.Query("SELECT id, price, body FROM items")
		if err != nil {
			b.Fatal(err)
		}
		defer rows.Close()
		var (
			id    int64
			price float64
			body  string
		)
		for rows.Next() {
			if err := rows.Scan(&id, &price, &body); err != nil {
				b.Fatal(err)
			}
		}
		if err := rows.Err(); err != nil {
			b.Fatal(err)
		}
	}

	b.Run("dmdb-driver", func(b *testing.B) {
		conn := openConn(b, dmdb.DefaultChunkSize)
		fill(b, conn, 1000)
		db, err := driver.OpenConfig(dmdb.Config{Server: conn.Config().Server, Native: benchNative})
		if err != nil {
			b.Fatal(err)
		}
		defer db.Close()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			scan(b, db)
		}
	})

	b.Run("SQLite-modernc", func(b *testing.B) {
		db, err := sql.Open("sqlite", filepath.Join(b.TempDir(), "direct.db"))
		if err != nil {
			b.Fatal(err)
		}
		defer db.Close()
		if _, err := db.Exec("CREATE TABLE items (id BIGINT, price DOUBLE, body VARCHAR(400))"); err != nil {
			b.Fatal(err)
		}
		tx, err := db.Begin()
		if err != nil {
			b.Fatal(err)
		}
		for i := 0; i < 1000; i++ {
			if _, err := tx.Exec("INSERT INTO items VALUES (?, ?, ?)", i, float64(i)*1.25, payload); err != nil {
				b.Fatal(err)
			}
		}
		if err := tx.Commit(); err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			scan(b, db)
		}
	})
}
