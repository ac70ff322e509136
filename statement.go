package dmdb

import (
	"log/slog"
	"strconv"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

// Stmt is a prepared statement. It is tied to the native connection it was
// prepared on; once that connection is reset every call fails with
// KindConnection and the statement has to be prepared again.
//
// A Stmt is not safe for concurrent use.
type Stmt struct {
	sess   *session
	handle dpi.StmtHandle
	query  string
	arena  arena
	rows   *Rows
	closed bool
}

// SQL returns the statement text.
func (s *Stmt) SQL() string { return s.query }

func (s *Stmt) usable() error {
	if err := s.sess.usable(); err != nil {
		return err
	}
	if s.closed {
		return newError(KindInternal, "use", "statement is closed")
	}
	return nil
}

// fail classifies err and reports connection loss to the owning Conn.
func (s *Stmt) fail(err error) error {
	return s.sess.fault(s.sess.classify(err))
}

// bind converts and binds args to positions 1..n. The previous arena is
// dropped first.
func (s *Stmt) bind(args []any) error {
	s.arena.reset()
	for i, arg := range args {
		pos := uint16(i + 1)
		v, err := ToValue(arg)
		if err != nil {
			if e, ok := err.(*Error); ok {
				e.Op = "bind parameter " + strconv.Itoa(int(pos))
			}
			return err
		}
		p, err := s.arena.add(v, s.sess.cfg)
		if err != nil {
			if e, ok := err.(*Error); ok {
				e.Op = "bind parameter " + strconv.Itoa(int(pos))
			}
			return err
		}
		rt := s.sess.api.BindParam(s.handle, pos, dpi.ParamInput, p.ctype, p.sqlType,
			p.precision, p.scale, p.buf, p.bufLen, p.ind)
		if err := check(s.sess.api, rt, dpi.HandleStmt, dpi.Handle(s.handle), KindParameter,
			"bind parameter "+strconv.Itoa(int(pos))); err != nil {
			return s.fail(err)
		}
	}
	return nil
}

func (s *Stmt) exec(args []any) error {
	if err := s.usable(); err != nil {
		return err
	}
	s.rows = nil
	if err := s.bind(args); err != nil {
		return err
	}
	rt := s.sess.api.Exec(s.handle)
	if err := check(s.sess.api, rt, dpi.HandleStmt, dpi.Handle(s.handle), KindStatement, "exec"); err != nil {
		return s.fail(err)
	}
	return nil
}

// Exec binds args and executes the statement, discarding any result set.
func (s *Stmt) Exec(args ...any) error {
	return s.exec(args)
}

// Query binds args, executes the statement and returns a cursor over its
// result set. A Stmt has at most one live cursor: executing it again
// invalidates the previous Rows.
func (s *Stmt) Query(args ...any) (*Rows, error) {
	if err := s.exec(args); err != nil {
		return nil, err
	}
	rows, err := newRows(s)
	if err != nil {
		return nil, s.fail(err)
	}
	s.rows = rows
	return rows, nil
}

// QueryRow runs the query and calls fn with its first row. It returns
// ErrQueryReturnedNoRows when there is none.
func (s *Stmt) QueryRow(fn func(*Row) error, args ...any) error {
	rows, err := s.Query(args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	row, err := rows.Next()
	if err != nil {
		return err
	}
	if row == nil {
		return ErrQueryReturnedNoRows
	}
	return fn(row)
}

// Close frees the native statement handle. It is safe to call more than
// once.
func (s *Stmt) Close() error {
	if s.closed {
		return nil
	}
	s.release()
	delete(s.sess.stmts, s)
	return nil
}

// release frees the handle without touching the session's statement set.
func (s *Stmt) release() {
	if s.closed {
		return
	}
	s.closed = true
	s.rows = nil
	if !s.sess.closed {
		if rt := s.sess.api.FreeStmt(s.handle); !rt.OK() {
			s.sess.log.Debug("dmdb: free statement handle failed", slog.String("rt", rt.String()))
		}
	}
	s.arena.reset()
}
