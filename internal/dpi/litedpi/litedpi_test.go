package litedpi

import (
	"path/filepath"
	"strings"
	"testing"
	"unsafe"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

func login(t *testing.T, a *API, server string) (dpi.EnvHandle, dpi.ConHandle) {
	t.Helper()
	env, rt := a.AllocEnv()
	if !rt.OK() {
		t.Fatalf("AllocEnv: %v", rt)
	}
	con, rt := a.AllocCon(env)
	if !rt.OK() {
		t.Fatalf("AllocCon: %v", rt)
	}
	if rt := a.Login(con, server, "SYSDBA", "SYSDBA"); !rt.OK() {
		_, msg, _ := a.GetDiagRec(dpi.HandleDBC, dpi.Handle(con), 1)
		t.Fatalf("Login: %v %s", rt, msg)
	}
	return env, con
}

func run(t *testing.T, a *API, con dpi.ConHandle, query string) dpi.StmtHandle {
	t.Helper()
	st, rt := a.AllocStmt(con)
	if !rt.OK() {
		t.Fatalf("AllocStmt: %v", rt)
	}
	if rt := a.Prepare(st, query); !rt.OK() {
		_, msg, _ := a.GetDiagRec(dpi.HandleStmt, dpi.Handle(st), 1)
		t.Fatalf("Prepare(%q): %v %s", query, rt, msg)
	}
	if rt := a.Exec(st); !rt.OK() {
		_, msg, _ := a.GetDiagRec(dpi.HandleStmt, dpi.Handle(st), 1)
		t.Fatalf("Exec(%q): %v %s", query, rt, msg)
	}
	return st
}

func TestHandleLifecycle(t *testing.T) {
	a := New()
	defer a.Close()
	env, con := login(t, a, "mem://life")
	st := run(t, a, con, "SELECT 1")
	if envs, cons, stmts := a.Handles(); envs != 1 || cons != 1 || stmts != 1 {
		t.Fatalf("handles = %d %d %d", envs, cons, stmts)
	}
	if rt := a.FreeEnv(env); rt != dpi.Error {
		t.Fatalf("FreeEnv with open connection = %v", rt)
	}
	if rt := a.Logout(con); rt != dpi.Success {
		t.Fatalf("Logout = %v", rt)
	}
	if rt := a.Exec(st); rt != dpi.InvalidHandle {
		t.Fatalf("statement survived logout: %v", rt)
	}
	if rt := a.Logout(con); rt != dpi.Error {
		t.Fatalf("second Logout = %v", rt)
	}
	if rt := a.FreeCon(con); rt != dpi.Success {
		t.Fatalf("FreeCon = %v", rt)
	}
	if rt := a.FreeEnv(env); rt != dpi.Success {
		t.Fatalf("FreeEnv = %v", rt)
	}
	if envs, cons, stmts := a.Handles(); envs+cons+stmts != 0 {
		t.Fatalf("handles left: %d %d %d", envs, cons, stmts)
	}
	if rt := a.FreeEnv(env); rt != dpi.InvalidHandle {
		t.Fatalf("FreeEnv twice = %v", rt)
	}
}

func TestCredentials(t *testing.T) {
	a := New(WithCredentials("SYSDBA", "good"))
	defer a.Close()
	env, _ := a.AllocEnv()
	con, _ := a.AllocCon(env)
	if rt := a.Login(con, "mem://cred", "SYSDBA", "bad"); rt != dpi.Error {
		t.Fatalf("Login with wrong password = %v", rt)
	}
	code, msg, rt := a.GetDiagRec(dpi.HandleDBC, dpi.Handle(con), 1)
	if rt != dpi.Success || code != CodeLoginFailed || !strings.Contains(msg, "password") {
		t.Fatalf("diag = %d %q %v", code, msg, rt)
	}
	if _, _, rt := a.GetDiagRec(dpi.HandleDBC, dpi.Handle(con), 2); rt != dpi.NoData {
		t.Fatalf("second record = %v", rt)
	}
	if rt := a.Login(con, "mem://cred", "SYSDBA", "good"); rt != dpi.Success {
		t.Fatalf("Login = %v", rt)
	}
	if _, _, rt := a.GetDiagRec(dpi.HandleDBC, dpi.Handle(con), 1); rt != dpi.NoData {
		t.Fatalf("successful call must clear the diagnostic, got %v", rt)
	}
	if a.Logins() != 1 || a.Sessions() != 1 {
		t.Fatalf("logins=%d sessions=%d", a.Logins(), a.Sessions())
	}
}

func TestBindReadAtExec(t *testing.T) {
	a := New()
	defer a.Close()
	_, con := login(t, a, "mem://bind")
	a.FreeStmt(run(t, a, con, "CREATE TABLE b (x BIGINT)"))

	st, _ := a.AllocStmt(con)
	if rt := a.Prepare(st, "INSERT INTO b VALUES (?)"); !rt.OK() {
		t.Fatalf("Prepare: %v", rt)
	}
	n := int64(1)
	ind := int64(8)
	if rt := a.BindParam(st, 1, dpi.ParamInput, dpi.CSBigInt, dpi.SQLBigInt, 19, 0, unsafe.Pointer(&n), 8, &ind); !rt.OK() {
		t.Fatalf("BindParam: %v", rt)
	}
	n = 41
	if rt := a.Exec(st); !rt.OK() {
		t.Fatalf("Exec: %v", rt)
	}
	n = 42
	if rt := a.Exec(st); !rt.OK() {
		t.Fatalf("Exec: %v", rt)
	}

	q := run(t, a, con, "SELECT SUM(x) AS s FROM b")
	if rt := a.Fetch(q); rt != dpi.Success {
		t.Fatalf("Fetch = %v", rt)
	}
	var sum, sind int64
	if rt := a.GetData(q, 1, dpi.CSBigInt, unsafe.Pointer(&sum), 8, &sind); rt != dpi.Success || sum != 83 {
		t.Fatalf("GetData = %v, sum %d", rt, sum)
	}
	if rt := a.Fetch(q); rt != dpi.NoData {
		t.Fatalf("Fetch at end = %v", rt)
	}
}

func TestBindParamValidation(t *testing.T) {
	a := New()
	defer a.Close()
	_, con := login(t, a, "mem://validate")
	st, _ := a.AllocStmt(con)
	a.Prepare(st, "SELECT ?, ?")
	var ind int64
	if rt := a.BindParam(st, 0, dpi.ParamInput, dpi.CSBigInt, dpi.SQLBigInt, 19, 0, nil, 0, &ind); rt != dpi.Error {
		t.Fatalf("position 0 = %v", rt)
	}
	if rt := a.BindParam(st, 1, dpi.ParamInput, dpi.CType(99), dpi.SQLBigInt, 19, 0, nil, 0, &ind); rt != dpi.Error {
		t.Fatalf("unknown C type = %v", rt)
	}
	n := int64(3)
	nind := int64(8)
	if rt := a.BindParam(st, 2, dpi.ParamInput, dpi.CSBigInt, dpi.SQLBigInt, 19, 0, unsafe.Pointer(&n), 8, &nind); rt != dpi.Success {
		t.Fatalf("BindParam(2) = %v", rt)
	}
	if rt := a.Exec(st); rt != dpi.Error {
		t.Fatalf("Exec with unbound parameter = %v", rt)
	}
	code, _, _ := a.GetDiagRec(dpi.HandleStmt, dpi.Handle(st), 1)
	if code != CodeBind {
		t.Fatalf("diag code = %d", code)
	}
}

func TestGetDataPieces(t *testing.T) {
	a := New()
	defer a.Close()
	_, con := login(t, a, "mem://pieces")
	q := run(t, a, con, "SELECT 'abcdefghij' AS s, NULL AS n")
	if rt := a.Fetch(q); rt != dpi.Success {
		t.Fatalf("Fetch = %v", rt)
	}
	buf := make([]byte, 5)
	var ind int64
	var got []byte
	rts := []dpi.Return{}
	for {
		rt := a.GetData(q, 1, dpi.CChar, unsafe.Pointer(&buf[0]), int64(len(buf)), &ind)
		rts = append(rts, rt)
		if rt == dpi.NoData {
			break
		}
		n := min(ind, int64(len(buf)-1))
		if buf[n] != 0 {
			t.Fatalf("piece not NUL terminated: %q", buf)
		}
		got = append(got, buf[:n]...)
		if rt == dpi.SuccessWithInfo {
			if code, _, _ := a.GetDiagRec(dpi.HandleStmt, dpi.Handle(q), 1); code != CodeTruncated {
				t.Fatalf("truncation diag code = %d", code)
			}
		}
	}
	if string(got) != "abcdefghij" {
		t.Fatalf("got %q", got)
	}
	want := []dpi.Return{dpi.SuccessWithInfo, dpi.SuccessWithInfo, dpi.Success, dpi.NoData}
	if len(rts) != len(want) {
		t.Fatalf("returns = %v", rts)
	}
	for i := range want {
		if rts[i] != want[i] {
			t.Fatalf("returns = %v", rts)
		}
	}
	if rt := a.GetData(q, 2, dpi.CChar, unsafe.Pointer(&buf[0]), int64(len(buf)), &ind); rt != dpi.Success || ind != dpi.NullData {
		t.Fatalf("NULL column = %v ind %d", rt, ind)
	}
	if rt := a.GetData(q, 3, dpi.CChar, unsafe.Pointer(&buf[0]), int64(len(buf)), &ind); rt != dpi.Error {
		t.Fatalf("column 3 = %v", rt)
	}
}

func TestDescColumn(t *testing.T) {
	a := New()
	defer a.Close()
	_, con := login(t, a, "mem://desc")
	a.FreeStmt(run(t, a, con, "CREATE TABLE d (name VARCHAR(30), price DECIMAL(8,3), at DATETIME, raw)"))
	q := run(t, a, con, "SELECT name, price, at, raw, 1.5 AS f FROM d")
	n, _ := a.NumberColumns(q)
	if n != 5 {
		t.Fatalf("NumberColumns = %d", n)
	}
	want := []dpi.ColumnDesc{
		{Name: "name", SQLType: dpi.SQLVarchar, Size: 30, Nullable: true},
		{Name: "price", SQLType: dpi.SQLDec, Size: 8, Scale: 3, Nullable: true},
		{Name: "at", SQLType: dpi.SQLTimestamp, Nullable: true},
		{Name: "raw", SQLType: dpi.SQLVarchar, Nullable: true},
		{Name: "f", SQLType: dpi.SQLVarchar, Nullable: true},
	}
	for i, w := range want {
		d, rt := a.DescColumn(q, uint16(i+1))
		if rt != dpi.Success || d != w {
			t.Fatalf("column %d = %+v (%v), want %+v", i+1, d, rt, w)
		}
	}
	if _, rt := a.DescColumn(q, 6); rt != dpi.Error {
		t.Fatalf("DescColumn out of range = %v", rt)
	}
	if rt := a.Fetch(q); rt != dpi.NoData {
		t.Fatalf("Fetch on empty table = %v", rt)
	}
	if _, rt := a.DescColumn(q, 1); rt != dpi.Error {
		t.Fatalf("DescColumn after Fetch = %v", rt)
	}
}

func TestAutocommitAndTransactions(t *testing.T) {
	a := New()
	defer a.Close()
	_, c1 := login(t, a, "mem://tx")
	_, c2 := login(t, a, "mem://tx")
	a.FreeStmt(run(t, a, c1, "CREATE TABLE t (x INTEGER)"))

	if rt := a.SetConAttr(c1, dpi.AttrAutocommit, dpi.AutocommitOff); rt != dpi.Success {
		t.Fatalf("autocommit off = %v", rt)
	}
	a.FreeStmt(run(t, a, c1, "INSERT INTO t VALUES (1)"))
	a.FreeStmt(run(t, a, c1, "ROLLBACK"))
	a.FreeStmt(run(t, a, c1, "INSERT INTO t VALUES (2)"))
	a.FreeStmt(run(t, a, c1, "COMMIT"))
	a.FreeStmt(run(t, a, c1, "COMMIT"))
	if rt := a.SetConAttr(c1, dpi.AttrAutocommit, dpi.AutocommitOn); rt != dpi.Success {
		t.Fatalf("autocommit on = %v", rt)
	}

	q := run(t, a, c2, "SELECT x FROM t")
	var x, ind int64
	if rt := a.Fetch(q); rt != dpi.Success {
		t.Fatalf("Fetch = %v", rt)
	}
	a.GetData(q, 1, dpi.CSBigInt, unsafe.Pointer(&x), 8, &ind)
	if x != 2 {
		t.Fatalf("x = %d", x)
	}
	if rt := a.Fetch(q); rt != dpi.NoData {
		t.Fatalf("rolled back row is visible")
	}

	if rt := a.SetConAttr(c1, dpi.AttrLocalCode, 77); rt != dpi.Error {
		t.Fatalf("bad local code = %v", rt)
	}
	if rt := a.SetConAttr(c1, dpi.Attr(1), 0); rt != dpi.Error {
		t.Fatalf("unknown attribute = %v", rt)
	}
}

func TestSever(t *testing.T) {
	a := New()
	defer a.Close()
	_, con := login(t, a, "mem://sever")
	st := run(t, a, con, "SELECT 1")
	a.Sever()
	if rt := a.Exec(st); rt != dpi.Error {
		t.Fatalf("Exec after Sever = %v", rt)
	}
	if code, _, _ := a.GetDiagRec(dpi.HandleStmt, dpi.Handle(st), 1); code != CodeConnectionLost {
		t.Fatalf("statement diag code = %d", code)
	}
	if _, rt := a.AllocStmt(con); rt != dpi.Error {
		t.Fatalf("AllocStmt after Sever = %v", rt)
	}
	if code, _, _ := a.GetDiagRec(dpi.HandleDBC, dpi.Handle(con), 1); code != CodeConnectionLost {
		t.Fatalf("connection diag code = %d", code)
	}
	if a.Sessions() != 0 {
		t.Fatalf("sessions after Sever = %d", a.Sessions())
	}
	if rt := a.Logout(con); rt != dpi.Success {
		t.Fatalf("Logout after Sever = %v", rt)
	}
	if rt := a.Login(con, "mem://sever", "u", "p"); rt != dpi.Success {
		t.Fatalf("Login after Sever = %v", rt)
	}
	a.FreeStmt(run(t, a, con, "SELECT 1"))
}

func TestFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lite.db")
	a := New()
	_, con := login(t, a, path)
	a.FreeStmt(run(t, a, con, "CREATE TABLE f (x INTEGER)"))
	a.FreeStmt(run(t, a, con, "INSERT INTO f VALUES (7)"))
	a.Close()

	b := New()
	defer b.Close()
	_, con = login(t, b, path)
	q := run(t, b, con, "SELECT x FROM f")
	var x, ind int64
	b.Fetch(q)
	if rt := b.GetData(q, 1, dpi.CSBigInt, unsafe.Pointer(&x), 8, &ind); rt != dpi.Success || x != 7 {
		t.Fatalf("reopened file: %v x=%d", rt, x)
	}
}

func TestEmptyServer(t *testing.T) {
	a := New()
	defer a.Close()
	env, _ := a.AllocEnv()
	con, _ := a.AllocCon(env)
	if rt := a.Login(con, "", "u", "p"); rt != dpi.Error {
		t.Fatalf("Login with empty server = %v", rt)
	}
}
