package dmdb

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

// session is one established native connection: an environment handle, a
// logged in connection handle and the statements allocated on it.
type session struct {
	owner *Conn
	api   dpi.API
	cfg   *Config
	log   *slog.Logger

	env   dpi.EnvHandle
	con   dpi.ConHandle
	stmts map[*Stmt]struct{}

	closed bool
}

// establish allocates handles, applies the charset and autocommit
// attributes and logs in. Partially acquired handles are released on
// failure.
func establish(c *Conn) (*session, error) {
	api, cfg := c.api, &c.cfg
	env, rt := api.AllocEnv()
	if !rt.OK() {
		return nil, newError(KindConnection, "alloc env", "allocate environment handle: %v", rt)
	}
	con, rt := api.AllocCon(env)
	if !rt.OK() {
		err := check(api, rt, dpi.HandleEnv, dpi.Handle(env), KindConnection, "alloc con")
		api.FreeEnv(env)
		return nil, err
	}
	s := &session{
		owner: c,
		api:   api,
		cfg:   cfg,
		log:   cfg.Logger.With(slog.String("server", cfg.Server)),
		env:   env,
		con:   con,
		stmts: make(map[*Stmt]struct{}),
	}
	fail := func(rt dpi.Return, op string) error {
		err := check(api, rt, dpi.HandleDBC, dpi.Handle(con), KindConnection, op)
		api.FreeCon(con)
		api.FreeEnv(env)
		return err
	}
	if rt := api.SetConAttr(con, dpi.AttrLocalCode, cfg.Charset.localCode()); !rt.OK() {
		return nil, fail(rt, "set local code")
	}
	if rt := api.SetConAttr(con, dpi.AttrAutocommit, dpi.AutocommitOn); !rt.OK() {
		return nil, fail(rt, "set autocommit")
	}
	if rt := api.Login(con, cfg.Server, cfg.User, cfg.Password); !rt.OK() {
		return nil, fail(rt, "login")
	}
	s.log.Debug("dmdb: connected", slog.String("user", cfg.User), slog.String("charset", string(cfg.Charset)))
	return s, nil
}

// close frees every statement, logs out and releases the handles. Errors
// are logged and otherwise ignored.
func (s *session) close() {
	if s.closed {
		return
	}
	for st := range s.stmts {
		st.release()
	}
	clear(s.stmts)
	s.closed = true
	if rt := s.api.Logout(s.con); !rt.OK() {
		s.log.Debug("dmdb: logout failed", slog.String("rt", rt.String()))
	}
	if rt := s.api.FreeCon(s.con); !rt.OK() {
		s.log.Debug("dmdb: free connection handle failed", slog.String("rt", rt.String()))
	}
	if rt := s.api.FreeEnv(s.env); !rt.OK() {
		s.log.Debug("dmdb: free environment handle failed", slog.String("rt", rt.String()))
	}
	s.log.Debug("dmdb: disconnected")
}

// fault reports err to the owning Conn, which drops this session when err
// is connection class.
func (s *session) fault(err error) error {
	if err != nil && KindOf(err) == KindConnection {
		s.owner.invalidate(s, err)
	}
	return err
}

// classify upgrades a statement level error whose native code is listed in
// ConnLostCodes to KindConnection.
func (s *session) classify(err error) error {
	if e, ok := err.(*Error); ok && e.Code != 0 && slices.Contains(s.cfg.ConnLostCodes, e.Code) {
		e.Kind = KindConnection
	}
	return err
}

func (s *session) usable() error {
	if s.closed {
		return newError(KindConnection, "use", "connection was reset")
	}
	return nil
}

func (s *session) setAutocommit(on bool) error {
	if err := s.usable(); err != nil {
		return err
	}
	v := dpi.AutocommitOff
	if on {
		v = dpi.AutocommitOn
	}
	rt := s.api.SetConAttr(s.con, dpi.AttrAutocommit, v)
	return check(s.api, rt, dpi.HandleDBC, dpi.Handle(s.con), KindConnection, "set autocommit")
}

func (s *session) prepare(query string) (*Stmt, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	h, rt := s.api.AllocStmt(s.con)
	if !rt.OK() {
		return nil, check(s.api, rt, dpi.HandleDBC, dpi.Handle(s.con), KindConnection, "alloc stmt")
	}
	if rt := s.api.Prepare(h, query); !rt.OK() {
		err := check(s.api, rt, dpi.HandleStmt, dpi.Handle(h), KindPrepare, "prepare")
		s.api.FreeStmt(h)
		return nil, s.classify(err)
	}
	st := &Stmt{sess: s, handle: h, query: query}
	s.stmts[st] = struct{}{}
	return st, nil
}

func (s *session) execute(query string, args []any) error {
	st, err := s.prepare(query)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Exec(args...)
}

func (s *session) queryRow(query string, fn func(*Row) error, args []any) error {
	st, err := s.prepare(query)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.QueryRow(fn, args...)
}

func (s *session) query(query string, args []any) (*Rows, error) {
	st, err := s.prepare(query)
	if err != nil {
		return nil, err
	}
	rows, err := st.Query(args...)
	if err != nil {
		st.Close()
		return nil, err
	}
	rows.ownsStmt = true
	return rows, nil
}

// identity runs a single value identity query. NULL reads as 0.
func (s *session) identity(query string) (int64, error) {
	var id *int64
	err := s.queryRow(query, func(r *Row) error {
		return r.Scan(&id)
	}, nil)
	if err != nil {
		return 0, err
	}
	if id == nil {
		return 0, nil
	}
	return *id, nil
}

func (s *session) identCurrent(table string) (int64, error) {
	return s.identity(fmt.Sprintf(s.cfg.IdentCurrentSQL, strings.ReplaceAll(table, "'", "''")))
}

func (s *session) lastInsertID() (int64, error) {
	return s.identity(s.cfg.LastInsertIDSQL)
}
