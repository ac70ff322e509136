package dmdb

import (
	"bytes"
	"strings"
	"testing"
)

func TestChunkedReads(t *testing.T) {
	for _, chunk := range []int{16, 100, DefaultChunkSize} {
		c, _ := newLite(t, func(cfg *Config) { cfg.ChunkSize = chunk })
		mustExec(t, c, "CREATE TABLE big (s CLOB, b BLOB)")
		text := strings.Repeat("ab€", 2000)
		blob := bytes.Repeat([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 1000)
		mustExec(t, c, "INSERT INTO big VALUES (?, ?)", text, blob)

		var gotS string
		var gotB []byte
		err := c.QueryRow("SELECT s, b FROM big", func(r *Row) error { return r.Scan(&gotS, &gotB) })
		if err != nil {
			t.Fatalf("chunk %d: %v", chunk, err)
		}
		if gotS != text {
			t.Fatalf("chunk %d: text length %d, want %d", chunk, len(gotS), len(text))
		}
		if !bytes.Equal(gotB, blob) {
			t.Fatalf("chunk %d: blob length %d, want %d", chunk, len(gotB), len(blob))
		}
		c.Close()
	}
}

func TestChunkBoundaryExact(t *testing.T) {
	c, _ := newLite(t, func(cfg *Config) { cfg.ChunkSize = 16 })
	mustExec(t, c, "CREATE TABLE edge (s VARCHAR(100), b BLOB)")
	text := strings.Repeat("x", 15*3)
	blob := bytes.Repeat([]byte{0xAB}, 16*2)
	mustExec(t, c, "INSERT INTO edge VALUES (?, ?)", text, blob)
	err := c.QueryRow("SELECT s, b FROM edge", func(r *Row) error {
		s, err := Get[string](r, 1)
		if err != nil || s != text {
			t.Fatalf("text at chunk multiple: %d bytes, %v", len(s), err)
		}
		b, err := Get[[]byte](r, 2)
		if err != nil || !bytes.Equal(b, blob) {
			t.Fatalf("blob at chunk multiple: %d bytes, %v", len(b), err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestEmptyTextIsNotNull(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE et (s TEXT)")
	mustExec(t, c, "INSERT INTO et VALUES (?)", "")
	err := c.QueryRow("SELECT s FROM et", func(r *Row) error {
		v, err := r.Value(1)
		if err != nil {
			return err
		}
		if v != Text("") {
			t.Fatalf("expected empty Text, got %#v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestColumnIndexContract(t *testing.T) {
	c, _ := newLite(t)
	err := c.QueryRow("SELECT 1 AS a, 2 AS b", func(r *Row) error {
		if r.Len() != 2 {
			t.Fatalf("Len = %d", r.Len())
		}
		_, err := r.Value(0)
		wantKind(t, err, KindIndex)
		_, err = r.Value(3)
		wantKind(t, err, KindIndex)
		if v, err := r.Value(2); err != nil || v != Integer(2) {
			t.Fatalf("Value(2) = %v, %v", v, err)
		}
		var a int
		wantKind(t, r.Scan(&a), KindIndex)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestColumnReadTwice(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE twice (s TEXT)")
	mustExec(t, c, "INSERT INTO twice VALUES (?)", "again")
	err := c.QueryRow("SELECT s FROM twice", func(r *Row) error {
		for range 2 {
			if v, err := r.Value(1); err != nil || v != Text("again") {
				t.Fatalf("Value(1) = %#v, %v", v, err)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRowGoesStale(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE st (x INTEGER)")
	mustExec(t, c, "INSERT INTO st VALUES (1), (2)")
	rs, err := c.Query("SELECT x FROM st ORDER BY x")
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	first, err := rs.Next()
	if err != nil || first == nil {
		t.Fatal(err)
	}
	if _, err := rs.Next(); err != nil {
		t.Fatal(err)
	}
	_, err = first.Value(1)
	wantKind(t, err, KindInternal)
}

func TestCursorSuperseded(t *testing.T) {
	c, _ := newLite(t)
	st, err := c.Prepare("SELECT 1 AS one")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	r1, err := st.Query()
	if err != nil {
		t.Fatal(err)
	}
	r2, err := st.Query()
	if err != nil {
		t.Fatal(err)
	}
	_, err = r1.Next()
	wantKind(t, err, KindInternal)
	if row, err := r2.Next(); err != nil || row == nil {
		t.Fatalf("latest cursor: %v, %v", row, err)
	}
	r2.Close()
	_, err = r2.Next()
	wantKind(t, err, KindInternal)
}

func TestColumnsDescribe(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE cd (name VARCHAR(20), amount DECIMAL(10,2), data BLOB)")
	rs, err := c.Query("SELECT name, amount, data FROM cd")
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	cols := rs.Columns()
	if len(cols) != 3 {
		t.Fatalf("got %d columns", len(cols))
	}
	if cols[0].Name != "name" || cols[0].TypeName != "VARCHAR" || cols[0].Length != 20 {
		t.Fatalf("column 1: %+v", cols[0])
	}
	if cols[1].TypeName != "DEC" || cols[1].Length != 10 || cols[1].Scale != 2 {
		t.Fatalf("column 2: %+v", cols[1])
	}
	if cols[2].TypeName != "BLOB" {
		t.Fatalf("column 3: %+v", cols[2])
	}
	if row, err := rs.Next(); row != nil || err != nil {
		t.Fatalf("empty table: %v, %v", row, err)
	}
}

func TestDecimalReadsAsFloat(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE money (amount DECIMAL(10,2))")
	mustExec(t, c, "INSERT INTO money VALUES (?)", 12.5)
	var f float64
	if err := c.QueryRow("SELECT amount FROM money", func(r *Row) error { return r.Scan(&f) }); err != nil {
		t.Fatal(err)
	}
	if f != 12.5 {
		t.Fatalf("got %v", f)
	}
}

func TestUnsupportedColumnTypes(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE odd (d DATE, j JSON)")
	mustExec(t, c, "INSERT INTO odd VALUES ('2024-01-01', '{}')")
	err := c.QueryRow("SELECT d, j FROM odd", func(r *Row) error {
		_, err := r.Value(1)
		wantKind(t, err, KindInternal)
		_, err = r.Value(2)
		wantKind(t, err, KindInternal)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestInvalidUTF8Text(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE bad (s VARCHAR(10))")
	mustExec(t, c, "INSERT INTO bad VALUES (?)", []byte{0xff, 0xfe, 'a'})
	err := c.QueryRow("SELECT s FROM bad", func(r *Row) error {
		_, err := r.Value(1)
		wantKind(t, err, KindInternal)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestInvalidGB18030Text(t *testing.T) {
	_, err := CharsetGB18030.decode([]byte{0x81, 0x30, 0xff, 'a'})
	wantKind(t, err, KindInternal)

	// U+FFFD stored in the data is not a decoding failure.
	enc, err := CharsetGB18030.encode("中\uFFFD文")
	if err != nil {
		t.Fatal(err)
	}
	got, err := CharsetGB18030.decode(enc)
	if err != nil || got != "中\uFFFD文" {
		t.Fatalf("decode = %q, %v", got, err)
	}
}
