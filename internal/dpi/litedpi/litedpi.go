// Package litedpi implements the dpi native client interface in process on
// top of SQLite (modernc.org/sqlite).
//
// It exists so the access layer can be exercised end to end without the
// vendor client library: handles live in a registry guarded by one mutex,
// bound parameter buffers are only read when a statement is executed,
// variable length columns are handed out in caller-sized pieces and every
// failure leaves one diagnostic record on the handle it was reported for.
//
// Server names select the database:
//   - mem://name opens a shared in-memory database private to the API value
//   - anything else is treated as a SQLite file path
package litedpi

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

// Diagnostic codes reported through GetDiagRec.
const (
	CodeGeneral        int32 = -1
	CodeNotConnected   int32 = -70001
	CodeLoginFailed    int32 = -70028
	CodeConnectionLost int32 = -70019
	CodeAttr           int32 = -70010
	CodeSyntax         int32 = -2007
	CodeSequence       int32 = -6001
	CodeBind           int32 = -6002
	CodeExec           int32 = -6003
	CodeIndex          int32 = -6004
	CodeCast           int32 = -6005
	CodeTruncated      int32 = 1004
)

// API is an in-process dpi.API. The zero value is not usable; call New.
type API struct {
	mu    sync.Mutex
	ns    string
	users map[string]string
	dbs   map[string]*database
	next  dpi.Handle

	envs  map[dpi.Handle]*environment
	cons  map[dpi.Handle]*connection
	stmts map[dpi.Handle]*statement
	diags map[dpi.Handle]diag

	logins int
}

var _ dpi.API = (*API)(nil)

// Option configures an API.
type Option func(*API)

// WithCredentials restricts Login to the given user/password pair. It may
// be passed more than once. Without it any credentials are accepted.
func WithCredentials(user, password string) Option {
	return func(a *API) {
		if a.users == nil {
			a.users = make(map[string]string)
		}
		a.users[user] = password
	}
}

// New returns an API with no open databases.
func New(opts ...Option) *API {
	a := &API{
		ns:    uuid.NewString(),
		dbs:   make(map[string]*database),
		envs:  make(map[dpi.Handle]*environment),
		cons:  make(map[dpi.Handle]*connection),
		stmts: make(map[dpi.Handle]*statement),
		diags: make(map[dpi.Handle]diag),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

type diag struct {
	code int32
	msg  string
}

type database struct {
	db     *sql.DB
	anchor *sql.Conn // keeps a mem:// database alive between sessions
}

type environment struct {
	id dpi.Handle
}

type connection struct {
	id         dpi.Handle
	env        dpi.Handle
	conn       *sql.Conn
	autocommit bool
	inTx       bool
	code       uintptr
	dead       bool
}

func (a *API) handle() dpi.Handle {
	a.next++
	return a.next
}

// fail records a diagnostic for h and returns dpi.Error.
func (a *API) fail(h dpi.Handle, code int32, format string, args ...any) dpi.Return {
	a.diags[h] = diag{code: code, msg: fmt.Sprintf(format, args...)}
	return dpi.Error
}

// info records a diagnostic for h and returns dpi.SuccessWithInfo.
func (a *API) info(h dpi.Handle, code int32, msg string) dpi.Return {
	a.diags[h] = diag{code: code, msg: msg}
	return dpi.SuccessWithInfo
}

func (a *API) AllocEnv() (dpi.EnvHandle, dpi.Return) {
	a.mu.Lock()
	defer a.mu.Unlock()
	env := &environment{id: a.handle()}
	a.envs[env.id] = env
	return dpi.EnvHandle(env.id), dpi.Success
}

func (a *API) FreeEnv(env dpi.EnvHandle) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := dpi.Handle(env)
	if _, ok := a.envs[id]; !ok {
		return dpi.InvalidHandle
	}
	for _, c := range a.cons {
		if c.env == id {
			return a.fail(id, CodeSequence, "environment has open connections")
		}
	}
	delete(a.envs, id)
	delete(a.diags, id)
	return dpi.Success
}

func (a *API) AllocCon(env dpi.EnvHandle) (dpi.ConHandle, dpi.Return) {
	a.mu.Lock()
	defer a.mu.Unlock()
	envID := dpi.Handle(env)
	if _, ok := a.envs[envID]; !ok {
		return 0, dpi.InvalidHandle
	}
	delete(a.diags, envID)
	c := &connection{id: a.handle(), env: envID, autocommit: true, code: dpi.CodeUTF8}
	a.cons[c.id] = c
	return dpi.ConHandle(c.id), dpi.Success
}

func (a *API) FreeCon(con dpi.ConHandle) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.cons[dpi.Handle(con)]
	if !ok {
		return dpi.InvalidHandle
	}
	a.disconnect(c)
	delete(a.cons, c.id)
	delete(a.diags, c.id)
	return dpi.Success
}

func (a *API) Login(con dpi.ConHandle, server, user, password string) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.cons[dpi.Handle(con)]
	if !ok {
		return dpi.InvalidHandle
	}
	delete(a.diags, c.id)
	if c.conn != nil {
		return a.fail(c.id, CodeSequence, "connection already established")
	}
	if a.users != nil {
		if pw, ok := a.users[user]; !ok || pw != password {
			return a.fail(c.id, CodeLoginFailed, "invalid username or password")
		}
	}
	d, err := a.open(server)
	if err != nil {
		return a.fail(c.id, CodeLoginFailed, "open %q: %v", server, err)
	}
	sc, err := d.db.Conn(context.Background())
	if err != nil {
		return a.fail(c.id, CodeLoginFailed, "connect %q: %v", server, err)
	}
	c.conn = sc
	c.dead = false
	c.inTx = false
	a.logins++
	return dpi.Success
}

func (a *API) Logout(con dpi.ConHandle) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.cons[dpi.Handle(con)]
	if !ok {
		return dpi.InvalidHandle
	}
	delete(a.diags, c.id)
	if c.conn == nil && !c.dead {
		return a.fail(c.id, CodeNotConnected, "connection not established")
	}
	a.disconnect(c)
	return dpi.Success
}

// disconnect rolls back, closes the session and frees the connection's
// statements.
func (a *API) disconnect(c *connection) {
	for id, st := range a.stmts {
		if st.con == c.id {
			st.close()
			delete(a.stmts, id)
			delete(a.diags, id)
		}
	}
	if c.conn != nil {
		if c.inTx {
			_, _ = c.conn.ExecContext(context.Background(), "ROLLBACK")
		}
		_ = c.conn.Close()
	}
	c.conn = nil
	c.inTx = false
}

func (a *API) SetConAttr(con dpi.ConHandle, attr dpi.Attr, value uintptr) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.cons[dpi.Handle(con)]
	if !ok {
		return dpi.InvalidHandle
	}
	delete(a.diags, c.id)
	if c.dead {
		return a.fail(c.id, CodeConnectionLost, "connection lost")
	}
	switch attr {
	case dpi.AttrAutocommit:
		switch value {
		case dpi.AutocommitOn:
			if c.inTx && c.conn != nil {
				if _, err := c.conn.ExecContext(context.Background(), "COMMIT"); err != nil {
					return a.fail(c.id, CodeExec, "commit on autocommit switch: %v", err)
				}
				c.inTx = false
			}
			c.autocommit = true
		case dpi.AutocommitOff:
			c.autocommit = false
		default:
			return a.fail(c.id, CodeAttr, "invalid autocommit value %d", value)
		}
	case dpi.AttrLocalCode:
		switch value {
		case dpi.CodeUTF8, dpi.CodeGB18030:
			c.code = value
		default:
			return a.fail(c.id, CodeAttr, "unsupported local code %d", value)
		}
	default:
		return a.fail(c.id, CodeAttr, "unsupported connection attribute %d", attr)
	}
	return dpi.Success
}

// open returns the database for server, opening it on first use.
func (a *API) open(server string) (*database, error) {
	if d, ok := a.dbs[server]; ok {
		return d, nil
	}
	var dsn string
	mem := strings.HasPrefix(server, "mem://")
	switch {
	case mem:
		name := strings.TrimPrefix(server, "mem://")
		dsn = fmt.Sprintf("file:%s-%s?mode=memory&cache=shared", a.ns, name)
	case server == "":
		return nil, fmt.Errorf("empty server name")
	default:
		dsn = server
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	d := &database{db: db}
	if mem {
		anchor, err := db.Conn(context.Background())
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		d.anchor = anchor
	}
	a.dbs[server] = d
	return d, nil
}

// Sever simulates the server dropping every established session. Further
// calls on those connections and their statements fail with
// CodeConnectionLost until the connection handle logs in again.
func (a *API) Sever() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.cons {
		if c.conn == nil {
			continue
		}
		if c.inTx {
			_, _ = c.conn.ExecContext(context.Background(), "ROLLBACK")
		}
		_ = c.conn.Close()
		c.conn = nil
		c.inTx = false
		c.dead = true
	}
}

// Logins returns the number of successful logins so far.
func (a *API) Logins() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logins
}

// Sessions returns the number of currently established connections.
func (a *API) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.cons {
		if c.conn != nil {
			n++
		}
	}
	return n
}

// Handles returns the number of live env, connection and statement handles.
func (a *API) Handles() (envs, cons, stmts int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.envs), len(a.cons), len(a.stmts)
}

// Close releases every database opened by the API. Handles still
// allocated become unusable.
func (a *API) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.cons {
		a.disconnect(c)
	}
	var first error
	for name, d := range a.dbs {
		if d.anchor != nil {
			_ = d.anchor.Close()
		}
		if err := d.db.Close(); err != nil && first == nil {
			first = err
		}
		delete(a.dbs, name)
	}
	return first
}

func (a *API) GetDiagRec(ht dpi.HandleType, h dpi.Handle, rec int16) (int32, string, dpi.Return) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec != 1 {
		return 0, "", dpi.NoData
	}
	d, ok := a.diags[h]
	if !ok {
		return 0, "", dpi.NoData
	}
	return d.code, d.msg, dpi.Success
}
