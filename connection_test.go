package dmdb

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/SimonWaldherr/dmdb/internal/dpi/litedpi"
)

func TestConnectIsLazy(t *testing.T) {
	c, api := newLite(t)
	if n := api.Logins(); n != 0 {
		t.Fatalf("Connect logged in %d times", n)
	}
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if n := api.Logins(); n != 1 {
		t.Fatalf("expected one login, got %d", n)
	}
}

func TestConnectValidates(t *testing.T) {
	api := litedpi.New()
	defer api.Close()
	_, err := Connect(api, Config{})
	wantKind(t, err, KindConnection)
	_, err = Connect(api, Config{Server: "mem://x", Charset: "latin1"})
	wantKind(t, err, KindConnection)
	_, err = Connect(nil, Config{Server: "mem://x"})
	wantKind(t, err, KindConnection)
}

func TestLoginFailure(t *testing.T) {
	api := litedpi.New(litedpi.WithCredentials("SYSDBA", "secret"))
	defer api.Close()
	cfg := liteConfig(t)
	cfg.Password = "wrong"
	c, err := Connect(api, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	err = c.Execute("SELECT 1")
	wantKind(t, err, KindConnection)
	var e *Error
	if !errors.As(err, &e) || e.Code != litedpi.CodeLoginFailed || !strings.Contains(e.Msg, "invalid username") {
		t.Fatalf("expected login diagnostic, got %#v", err)
	}
	if envs, cons, _ := api.Handles(); envs != 0 || cons != 0 {
		t.Fatalf("failed login leaked handles: env=%d con=%d", envs, cons)
	}
}

func TestRoundTripVariants(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, `CREATE TABLE v (
		i BIGINT, f DOUBLE, s CLOB, b BLOB, d TIMESTAMP)`)
	when := DateTime{Year: 2024, Month: 5, Day: 17, Hour: 8, Minute: 30, Second: 15, Microsecond: 123456}
	farFuture := DateTime{Year: 9999, Month: 12, Day: 31, Hour: 23, Minute: 59, Second: 59, Microsecond: 999999}
	rows := [][]any{
		{int64(-42), 3.25, "plain", []byte{0, 1, 2, 255}, when},
		{int64(0), 0.0, "", []byte{0}, DateTime{Year: 1970, Month: 1, Day: 1}},
		{int64(1) << 62, -1e300, "多字节 ✓", bytes.Repeat([]byte{7}, 33), when},
		{int64(math.MinInt64), 2.5e-300, strings.Repeat("数据库", 1365), []byte{}, farFuture},
		{int64(math.MaxInt64), 1e300, "x", bytes.Repeat([]byte{0xab, 0x00}, 10240), farFuture},
		{int64(-1), -0.5, strings.Repeat("é", 6000), []byte{0xff}, DateTime{Year: 1999, Month: 12, Day: 31, Hour: 23, Minute: 59, Second: 59}},
	}
	for _, r := range rows {
		mustExec(t, c, "INSERT INTO v VALUES (?, ?, ?, ?, ?)", r...)
	}

	rs, err := c.Query("SELECT i, f, s, b, d FROM v ORDER BY rowid")
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	for n, want := range rows {
		row, err := rs.Next()
		if err != nil || row == nil {
			t.Fatalf("row %d: %v, %v", n, row, err)
		}
		var (
			i int64
			f float64
			s string
			b []byte
			d DateTime
		)
		if err := row.Scan(&i, &f, &s, &b, &d); err != nil {
			t.Fatalf("row %d scan: %v", n, err)
		}
		if i != want[0].(int64) || f != want[1].(float64) || s != want[2].(string) ||
			!bytes.Equal(b, want[3].([]byte)) || d != want[4].(DateTime) {
			t.Fatalf("row %d: got %v %v %q %v %v, want %v", n, i, f, s, b, d, want)
		}
	}
	if row, err := rs.Next(); row != nil || err != nil {
		t.Fatalf("expected end of rows, got %v, %v", row, err)
	}
	if row, err := rs.Next(); row != nil || err != nil {
		t.Fatalf("Next after end: %v, %v", row, err)
	}
}

func TestNullColumns(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE n (i INTEGER, f REAL, s TEXT, b BLOB, d DATETIME)")
	mustExec(t, c, "INSERT INTO n VALUES (NULL, NULL, NULL, NULL, NULL)")
	err := c.QueryRow("SELECT i, f, s, b, d FROM n", func(r *Row) error {
		vals, err := r.Values()
		if err != nil {
			return err
		}
		for i, v := range vals {
			if _, ok := v.(Null); !ok {
				t.Fatalf("column %d: expected Null, got %#v", i+1, v)
			}
		}
		var s *string
		if err := r.ScanColumn(3, &s); err != nil || s != nil {
			t.Fatalf("optional text: %v, %v", s, err)
		}
		var n int64
		if err := r.ScanColumn(1, &n); KindOf(err) != KindFromValue {
			t.Fatalf("NULL into int64: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestNullParameterRejected(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE p (x INTEGER)")
	err := c.Execute("INSERT INTO p VALUES (?)", nil)
	wantKind(t, err, KindParameter)
	var e *Error
	if !errors.As(err, &e) || e.Op != "bind parameter 1" {
		t.Fatalf("expected bind parameter 1, got %v", err)
	}
	if n := countRows(t, c, "p"); n != 0 {
		t.Fatalf("insert ran with rejected parameter: %d rows", n)
	}
}

func TestQueryReturnedNoRows(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE e (x INTEGER)")
	called := false
	err := c.QueryRow("SELECT x FROM e", func(*Row) error { called = true; return nil })
	if !errors.Is(err, ErrQueryReturnedNoRows) || !errors.Is(err, KindNoRows) {
		t.Fatalf("expected ErrQueryReturnedNoRows, got %v", err)
	}
	if called {
		t.Fatalf("callback ran without a row")
	}
}

func TestQueryRowPropagatesCallbackError(t *testing.T) {
	c, _ := newLite(t)
	boom := errors.New("boom")
	if err := c.QueryRow("SELECT 1", func(*Row) error { return boom }); err != boom {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestPrepareError(t *testing.T) {
	c, api := newLite(t)
	err := c.Execute("SELEC nonsense")
	wantKind(t, err, KindPrepare)
	var e *Error
	if !errors.As(err, &e) || e.Code != litedpi.CodeSyntax || e.Msg == "" {
		t.Fatalf("expected syntax diagnostic, got %#v", err)
	}
	if _, _, stmts := api.Handles(); stmts != 0 {
		t.Fatalf("failed prepare leaked %d statement handles", stmts)
	}
	if err := c.Ping(); err != nil {
		t.Fatalf("prepare error must not reset the connection: %v", err)
	}
	if n := api.Logins(); n != 1 {
		t.Fatalf("expected one login, got %d", n)
	}
}

func TestStatementError(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE u (x INTEGER UNIQUE)")
	mustExec(t, c, "INSERT INTO u VALUES (?)", 1)
	err := c.Execute("INSERT INTO u VALUES (?)", 1)
	wantKind(t, err, KindStatement)
	if !strings.Contains(err.Error(), "UNIQUE") {
		t.Fatalf("diagnostic lost: %v", err)
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	c, api := newLite(t)
	mustExec(t, c, "CREATE TABLE r (x INTEGER)")
	mustExec(t, c, "INSERT INTO r VALUES (?)", 1)
	st, err := c.Prepare("INSERT INTO r VALUES (?)")
	if err != nil {
		t.Fatal(err)
	}

	api.Sever()
	err = st.Exec(2)
	wantKind(t, err, KindConnection)
	if err := st.Exec(3); KindOf(err) != KindConnection {
		t.Fatalf("statement from a reset connection must stay unusable: %v", err)
	}

	mustExec(t, c, "INSERT INTO r VALUES (?)", 4)
	if n := api.Logins(); n != 2 {
		t.Fatalf("expected a second login, got %d", n)
	}
	if n := api.Sessions(); n != 1 {
		t.Fatalf("expected exactly one live session, got %d", n)
	}
	if n := countRows(t, c, "r"); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReconnectWithDefaultCodes(t *testing.T) {
	c, api := newLite(t, func(cfg *Config) { cfg.ConnLostCodes = nil })
	mustExec(t, c, "CREATE TABLE d (x INTEGER)")
	st, err := c.Prepare("INSERT INTO d VALUES (?)")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	api.Sever()
	wantKind(t, st.Exec(1), KindConnection)
	mustExec(t, c, "SELECT 1")
	if n := api.Logins(); n != 2 {
		t.Fatalf("expected reconnect, got %d logins", n)
	}
}

func TestReconnectOnNextOperation(t *testing.T) {
	c, api := newLite(t)
	if err := c.Ping(); err != nil {
		t.Fatal(err)
	}
	api.Sever()
	wantKind(t, c.Ping(), KindConnection)
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping after reset: %v", err)
	}
	if n := api.Logins(); n != 2 {
		t.Fatalf("expected reconnect, got %d logins", n)
	}
}

func TestIdentity(t *testing.T) {
	c, _ := newLite(t)
	mustExec(t, c, "CREATE TABLE idt (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)")
	id, err := c.IdentCurrent("idt")
	if err != nil || id != 0 {
		t.Fatalf("IdentCurrent before insert: %d, %v", id, err)
	}
	for _, name := range []string{"a", "b", "c"} {
		mustExec(t, c, "INSERT INTO idt (name) VALUES (?)", name)
	}
	if id, err = c.IdentCurrent("idt"); err != nil || id != 3 {
		t.Fatalf("IdentCurrent: %d, %v", id, err)
	}
	if id, err = c.LastInsertID(); err != nil || id != 3 {
		t.Fatalf("LastInsertID: %d, %v", id, err)
	}
	if id, err = c.IdentCurrent("no'such"); err != nil || id != 0 {
		t.Fatalf("IdentCurrent quoted name: %d, %v", id, err)
	}
}

func TestCloseReleasesHandles(t *testing.T) {
	c, api := newLite(t)
	st, err := c.Prepare("SELECT 1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Query(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if envs, cons, stmts := api.Handles(); envs+cons+stmts != 0 {
		t.Fatalf("handles left after Close: %d %d %d", envs, cons, stmts)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Stmt.Close after Conn.Close: %v", err)
	}
	if err := c.Ping(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestGB18030(t *testing.T) {
	c, _ := newLite(t, func(cfg *Config) { cfg.Charset = CharsetGB18030 })
	mustExec(t, c, "CREATE TABLE g (s VARCHAR(50))")
	const word = "达梦数据库"
	mustExec(t, c, "INSERT INTO g VALUES (?)", word)
	var got string
	if err := c.QueryRow("SELECT s FROM g", func(r *Row) error { return r.Scan(&got) }); err != nil {
		t.Fatal(err)
	}
	if got != word {
		t.Fatalf("got %q, want %q", got, word)
	}
	var raw []byte
	if err := c.QueryRow("SELECT CAST(s AS BLOB) AS raw FROM g", func(r *Row) error { return r.Scan(&raw) }); err != nil {
		t.Fatal(err)
	}
	if string(raw) != word {
		t.Fatalf("stored text should be UTF-8 inside the database, got % x", raw)
	}
}
