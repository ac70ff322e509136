// Package dpi declares the handle-based native client interface the dmdb
// access layer is written against.
//
// Every method corresponds to one native call and returns its status code
// unchanged; callers translate non-success codes through GetDiagRec. Buffer
// arguments are raw addresses: the native side may retain a bound parameter
// address until the statement is executed again, rebound or freed, so the
// caller keeps that memory alive and pinned for as long.
package dpi

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"
)

// API is the native client library.
type API interface {
	// AllocEnv is dpi_alloc_env.
	AllocEnv() (EnvHandle, Return)
	// FreeEnv is dpi_free_env.
	FreeEnv(env EnvHandle) Return
	// AllocCon is dpi_alloc_con.
	AllocCon(env EnvHandle) (ConHandle, Return)
	// FreeCon is dpi_free_con.
	FreeCon(con ConHandle) Return
	// Login is dpi_login.
	Login(con ConHandle, server, user, password string) Return
	// Logout is dpi_logout.
	Logout(con ConHandle) Return
	// SetConAttr is dpi_set_con_attr with an integer valued attribute.
	SetConAttr(con ConHandle, attr Attr, value uintptr) Return

	// AllocStmt is dpi_alloc_stmt.
	AllocStmt(con ConHandle) (StmtHandle, Return)
	// FreeStmt is dpi_free_stmt.
	FreeStmt(stmt StmtHandle) Return
	// Prepare is dpi_prepare.
	Prepare(stmt StmtHandle, sql string) Return
	// Exec is dpi_exec. Bound parameter buffers are read here.
	Exec(stmt StmtHandle) Return
	// BindParam is dpi_bind_param. buf and ind must stay valid until the
	// statement is rebound, executed for the last time or freed.
	BindParam(stmt StmtHandle, pos uint16, dir ParamDirection, ctype CType, sqlType SQLType,
		precision uint64, scale int16, buf unsafe.Pointer, bufLen int64, ind *int64) Return

	// NumberColumns is dpi_number_columns.
	NumberColumns(stmt StmtHandle) (int16, Return)
	// DescColumn is dpi_desc_column. Only valid before the first Fetch.
	DescColumn(stmt StmtHandle, col uint16) (ColumnDesc, Return)
	// Fetch is dpi_fetch. NoData marks the end of the result set.
	Fetch(stmt StmtHandle) Return
	// GetData is dpi_get_data. For variable length columns repeated calls
	// continue where the previous call stopped: SuccessWithInfo means more
	// data remains, Success means the final piece was written and NoData
	// means nothing is left. ind receives the remaining length before the
	// call (or NoTotal), or NullData for SQL NULL. CChar output is NUL
	// terminated.
	GetData(stmt StmtHandle, col uint16, ctype CType, buf unsafe.Pointer, bufLen int64, ind *int64) Return

	// GetDiagRec is dpi_get_diag_rec. rec is 1-based.
	GetDiagRec(ht HandleType, h Handle, rec int16) (code int32, msg string, rt Return)
}

// ColumnDesc is the result of DescColumn.
type ColumnDesc struct {
	Name     string
	SQLType  SQLType
	Size     uint64
	Scale    int16
	Nullable bool
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]API)
)

// Register makes an API implementation available under name. It panics on
// a nil api or a duplicate name, like sql.Register.
func Register(name string, api API) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if api == nil {
		panic("dpi: Register api is nil")
	}
	if _, dup := registry[name]; dup {
		panic("dpi: Register called twice for " + name)
	}
	registry[name] = api
}

// Lookup returns the API registered under name.
func Lookup(name string) (API, error) {
	registryMu.RLock()
	api, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dpi: unknown native interface %q (registered: %v)", name, Registered())
	}
	return api, nil
}

// Registered returns the sorted names of registered implementations.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
