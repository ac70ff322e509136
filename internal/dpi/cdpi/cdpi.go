//go:build cgo && dmdpi

package cdpi

/*
#cgo LDFLAGS: -ldmdpi
#include <stdlib.h>
#include "DPI.h"
#include "DPIext.h"
#include "DPItypes.h"

static DPIRETURN set_int_attr(dhcon con, sdint4 attr, ulength value) {
	return dpi_set_con_attr(con, attr, (dpointer)value, 0);
}
*/
import "C"

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

// Name is the registry name of the binding.
const Name = "dmdpi"

func init() {
	dpi.Register(Name, New())
}

const maxColumnName = 256

// API forwards every call to the client library. Native handles are kept
// in a registry and handed out as small integer ids; bound parameter
// buffers stay pinned per statement and position until they are rebound,
// the statement is prepared again or freed.
type API struct {
	mu    sync.Mutex
	next  dpi.Handle
	envs  map[dpi.Handle]C.dhenv
	cons  map[dpi.Handle]C.dhcon
	stmts map[dpi.Handle]C.dhstmt
	pins  map[dpi.Handle]map[uint16]*runtime.Pinner
}

var _ dpi.API = (*API)(nil)

// New returns an empty binding.
func New() *API {
	return &API{
		envs:  make(map[dpi.Handle]C.dhenv),
		cons:  make(map[dpi.Handle]C.dhcon),
		stmts: make(map[dpi.Handle]C.dhstmt),
		pins:  make(map[dpi.Handle]map[uint16]*runtime.Pinner),
	}
}

func (a *API) add() dpi.Handle {
	a.next++
	return a.next
}

func (a *API) env(h dpi.EnvHandle) (C.dhenv, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.envs[dpi.Handle(h)]
	return e, ok
}

func (a *API) con(h dpi.ConHandle) (C.dhcon, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.cons[dpi.Handle(h)]
	return c, ok
}

func (a *API) stmt(h dpi.StmtHandle) (C.dhstmt, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stmts[dpi.Handle(h)]
	return s, ok
}

// unpin releases the pinned buffers of stmt, all positions when pos is 0.
func (a *API) unpin(stmt dpi.Handle, pos uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	byPos := a.pins[stmt]
	if byPos == nil {
		return
	}
	if pos != 0 {
		if p := byPos[pos]; p != nil {
			p.Unpin()
			delete(byPos, pos)
		}
		return
	}
	for _, p := range byPos {
		p.Unpin()
	}
	delete(a.pins, stmt)
}

func (a *API) AllocEnv() (dpi.EnvHandle, dpi.Return) {
	var e C.dhenv
	rt := dpi.Return(C.dpi_alloc_env(&e))
	if !rt.OK() {
		return 0, rt
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.add()
	a.envs[h] = e
	return dpi.EnvHandle(h), rt
}

func (a *API) FreeEnv(env dpi.EnvHandle) dpi.Return {
	e, ok := a.env(env)
	if !ok {
		return dpi.InvalidHandle
	}
	rt := dpi.Return(C.dpi_free_env(e))
	if rt.OK() {
		a.mu.Lock()
		delete(a.envs, dpi.Handle(env))
		a.mu.Unlock()
	}
	return rt
}

func (a *API) AllocCon(env dpi.EnvHandle) (dpi.ConHandle, dpi.Return) {
	e, ok := a.env(env)
	if !ok {
		return 0, dpi.InvalidHandle
	}
	var c C.dhcon
	rt := dpi.Return(C.dpi_alloc_con(e, &c))
	if !rt.OK() {
		return 0, rt
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.add()
	a.cons[h] = c
	return dpi.ConHandle(h), rt
}

func (a *API) FreeCon(con dpi.ConHandle) dpi.Return {
	c, ok := a.con(con)
	if !ok {
		return dpi.InvalidHandle
	}
	rt := dpi.Return(C.dpi_free_con(c))
	if rt.OK() {
		a.mu.Lock()
		delete(a.cons, dpi.Handle(con))
		a.mu.Unlock()
	}
	return rt
}

func (a *API) Login(con dpi.ConHandle, server, user, password string) dpi.Return {
	c, ok := a.con(con)
	if !ok {
		return dpi.InvalidHandle
	}
	cs, cu, cp := C.CString(server), C.CString(user), C.CString(password)
	defer C.free(unsafe.Pointer(cs))
	defer C.free(unsafe.Pointer(cu))
	defer C.free(unsafe.Pointer(cp))
	return dpi.Return(C.dpi_login(c, (*C.sdbyte)(unsafe.Pointer(cs)),
		(*C.sdbyte)(unsafe.Pointer(cu)), (*C.sdbyte)(unsafe.Pointer(cp))))
}

func (a *API) Logout(con dpi.ConHandle) dpi.Return {
	c, ok := a.con(con)
	if !ok {
		return dpi.InvalidHandle
	}
	return dpi.Return(C.dpi_logout(c))
}

func (a *API) SetConAttr(con dpi.ConHandle, attr dpi.Attr, value uintptr) dpi.Return {
	c, ok := a.con(con)
	if !ok {
		return dpi.InvalidHandle
	}
	var id C.sdint4
	switch attr {
	case dpi.AttrAutocommit:
		id = C.DSQL_ATTR_AUTOCOMMIT
		if value == dpi.AutocommitOn {
			value = C.DSQL_AUTOCOMMIT_ON
		} else {
			value = C.DSQL_AUTOCOMMIT_OFF
		}
	case dpi.AttrLocalCode:
		id = C.DSQL_ATTR_LOCAL_CODE
		if value == dpi.CodeGB18030 {
			value = C.PG_GB18030
		} else {
			value = C.PG_UTF8
		}
	default:
		id = C.sdint4(attr)
	}
	return dpi.Return(C.set_int_attr(c, id, C.ulength(value)))
}

func (a *API) AllocStmt(con dpi.ConHandle) (dpi.StmtHandle, dpi.Return) {
	c, ok := a.con(con)
	if !ok {
		return 0, dpi.InvalidHandle
	}
	var s C.dhstmt
	rt := dpi.Return(C.dpi_alloc_stmt(c, &s))
	if !rt.OK() {
		return 0, rt
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.add()
	a.stmts[h] = s
	return dpi.StmtHandle(h), rt
}

func (a *API) FreeStmt(stmt dpi.StmtHandle) dpi.Return {
	s, ok := a.stmt(stmt)
	if !ok {
		return dpi.InvalidHandle
	}
	rt := dpi.Return(C.dpi_free_stmt(s))
	a.unpin(dpi.Handle(stmt), 0)
	a.mu.Lock()
	delete(a.stmts, dpi.Handle(stmt))
	a.mu.Unlock()
	return rt
}

func (a *API) Prepare(stmt dpi.StmtHandle, query string) dpi.Return {
	s, ok := a.stmt(stmt)
	if !ok {
		return dpi.InvalidHandle
	}
	a.unpin(dpi.Handle(stmt), 0)
	cq := C.CString(query)
	defer C.free(unsafe.Pointer(cq))
	return dpi.Return(C.dpi_prepare(s, (*C.sdbyte)(unsafe.Pointer(cq))))
}

func (a *API) Exec(stmt dpi.StmtHandle) dpi.Return {
	s, ok := a.stmt(stmt)
	if !ok {
		return dpi.InvalidHandle
	}
	return dpi.Return(C.dpi_exec(s))
}

func (a *API) BindParam(stmt dpi.StmtHandle, pos uint16, dir dpi.ParamDirection, ctype dpi.CType, sqlType dpi.SQLType,
	precision uint64, scale int16, buf unsafe.Pointer, bufLen int64, ind *int64) dpi.Return {
	s, ok := a.stmt(stmt)
	if !ok {
		return dpi.InvalidHandle
	}
	a.unpin(dpi.Handle(stmt), pos)
	p := new(runtime.Pinner)
	if buf != nil {
		p.Pin(buf)
	}
	if ind != nil {
		p.Pin(ind)
	}
	rt := dpi.Return(C.dpi_bind_param(s, C.udint2(pos), C.sdint2(paramType(dir)), C.sdint2(cType(ctype)),
		C.sdint2(sqlType), C.ulength(precision), C.sdint2(scale), C.dpointer(buf), C.slength(bufLen),
		(*C.slength)(unsafe.Pointer(ind))))
	if !rt.OK() {
		p.Unpin()
		return rt
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	byPos := a.pins[dpi.Handle(stmt)]
	if byPos == nil {
		byPos = make(map[uint16]*runtime.Pinner)
		a.pins[dpi.Handle(stmt)] = byPos
	}
	byPos[pos] = p
	return rt
}

func (a *API) NumberColumns(stmt dpi.StmtHandle) (int16, dpi.Return) {
	s, ok := a.stmt(stmt)
	if !ok {
		return 0, dpi.InvalidHandle
	}
	var n C.sdint2
	rt := dpi.Return(C.dpi_number_columns(s, &n))
	return int16(n), rt
}

func (a *API) DescColumn(stmt dpi.StmtHandle, col uint16) (dpi.ColumnDesc, dpi.Return) {
	s, ok := a.stmt(stmt)
	if !ok {
		return dpi.ColumnDesc{}, dpi.InvalidHandle
	}
	name := (*C.sdbyte)(C.malloc(maxColumnName))
	defer C.free(unsafe.Pointer(name))
	var (
		nameLen, typ, digits, nullable C.sdint2
		size                           C.ulength
	)
	rt := dpi.Return(C.dpi_desc_column(s, C.sdint2(col), name, maxColumnName, &nameLen, &typ, &size, &digits, &nullable))
	if !rt.OK() {
		return dpi.ColumnDesc{}, rt
	}
	n := int(nameLen)
	if n >= maxColumnName {
		n = maxColumnName - 1
	}
	return dpi.ColumnDesc{
		Name:     C.GoStringN((*C.char)(unsafe.Pointer(name)), C.int(n)),
		SQLType:  dpi.SQLType(typ),
		Size:     uint64(size),
		Scale:    int16(digits),
		Nullable: nullable != C.DSQL_NO_NULLS,
	}, rt
}

func (a *API) Fetch(stmt dpi.StmtHandle) dpi.Return {
	s, ok := a.stmt(stmt)
	if !ok {
		return dpi.InvalidHandle
	}
	var rows C.ulength
	return dpi.Return(C.dpi_fetch(s, &rows))
}

// GetData hands the caller's buffer to the library for the duration of the
// call only, so no pinning is needed.
func (a *API) GetData(stmt dpi.StmtHandle, col uint16, ctype dpi.CType, buf unsafe.Pointer, bufLen int64, ind *int64) dpi.Return {
	s, ok := a.stmt(stmt)
	if !ok {
		return dpi.InvalidHandle
	}
	var n C.slength
	rt := dpi.Return(C.dpi_get_data(s, C.udint2(col), C.sdint2(cType(ctype)), C.dpointer(buf), C.slength(bufLen), &n))
	if ind != nil {
		*ind = int64(n)
	}
	return rt
}

func (a *API) GetDiagRec(ht dpi.HandleType, h dpi.Handle, rec int16) (int32, string, dpi.Return) {
	var native C.dhandle
	a.mu.Lock()
	switch ht {
	case dpi.HandleEnv:
		if e, ok := a.envs[h]; ok {
			native = C.dhandle(e)
		}
	case dpi.HandleDBC:
		if c, ok := a.cons[h]; ok {
			native = C.dhandle(c)
		}
	case dpi.HandleStmt:
		if s, ok := a.stmts[h]; ok {
			native = C.dhandle(s)
		}
	}
	a.mu.Unlock()
	if native == nil {
		return 0, "", dpi.InvalidHandle
	}

	const bufSize = 1024
	msg := (*C.sdbyte)(C.malloc(bufSize))
	defer C.free(unsafe.Pointer(msg))
	var (
		code   C.sdint4
		msgLen C.sdint2
	)
	rt := dpi.Return(C.dpi_get_diag_rec(C.sdint2(handleType(ht)), native, C.sdint2(rec), &code, msg, bufSize, &msgLen))
	if !rt.OK() {
		return 0, "", rt
	}
	n := int(msgLen)
	if n >= bufSize {
		n = bufSize - 1
	}
	return int32(code), C.GoStringN((*C.char)(unsafe.Pointer(msg)), C.int(n)), rt
}

func handleType(ht dpi.HandleType) C.sdint2 {
	switch ht {
	case dpi.HandleEnv:
		return C.DSQL_HANDLE_ENV
	case dpi.HandleDBC:
		return C.DSQL_HANDLE_DBC
	default:
		return C.DSQL_HANDLE_STMT
	}
}

func paramType(dpi.ParamDirection) C.sdint2 { return C.DSQL_PARAM_INPUT }

func cType(t dpi.CType) C.sdint2 {
	switch t {
	case dpi.CChar:
		return C.DSQL_C_NCHAR
	case dpi.CSBigInt:
		return C.DSQL_C_SBIGINT
	case dpi.CDouble:
		return C.DSQL_C_DOUBLE
	case dpi.CBinary:
		return C.DSQL_C_BINARY
	case dpi.CTimestamp:
		return C.DSQL_C_TIMESTAMP
	}
	return C.sdint2(t)
}
