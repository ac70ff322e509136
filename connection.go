package dmdb

import (
	"fmt"
	"log/slog"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

// DefaultNative is the native interface Open uses when Config.Native is
// empty.
const DefaultNative = "dmdpi"

// Conn is a logical connection. The native connection behind it is
// established on first use and re-established on the next call after any
// connection class error, so at most one native connection is live per
// Conn at a time.
//
// A Conn is not safe for concurrent use.
type Conn struct {
	api    dpi.API
	cfg    Config
	log    *slog.Logger
	inner  *session
	tx     *Tx
	closed bool
}

// Connect validates cfg and returns a Conn using api. No native call is
// made until the first operation.
func Connect(api dpi.API, cfg Config) (*Conn, error) {
	if api == nil {
		return nil, newError(KindConnection, "connect", "nil native interface")
	}
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Kind: KindConnection, Op: "connect", Msg: err.Error(), Err: err}
	}
	return &Conn{api: api, cfg: cfg, log: cfg.Logger}, nil
}

// Open is Connect with the native interface registered under cfg.Native.
func Open(cfg Config) (*Conn, error) {
	api, err := LookupNative(cfg.Native)
	if err != nil {
		return nil, err
	}
	return Connect(api, cfg)
}

// LookupNative returns the native interface registered under name, or
// under DefaultNative when name is empty.
func LookupNative(name string) (dpi.API, error) {
	if name == "" {
		name = DefaultNative
	}
	api, err := dpi.Lookup(name)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "open", Msg: err.Error(), Err: err}
	}
	return api, nil
}

// Config returns the validated configuration.
func (c *Conn) Config() Config { return c.cfg }

// session returns the live native connection, establishing one when there
// is none.
func (c *Conn) session() (*session, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.inner != nil {
		return c.inner, nil
	}
	s, err := establish(c)
	if err != nil {
		c.log.Warn("dmdb: connect failed", slog.String("server", c.cfg.Server), slog.Any("err", err))
		return nil, err
	}
	c.inner = s
	return s, nil
}

// invalidate drops s if it is still the current native connection.
func (c *Conn) invalidate(s *session, cause error) {
	if c.inner != s {
		return
	}
	c.log.Warn("dmdb: resetting connection", slog.String("server", c.cfg.Server), slog.Any("err", cause))
	c.inner = nil
	s.close()
}

func (c *Conn) do(fn func(*session) error) error {
	if c.tx != nil {
		return newError(KindInternal, "use", "connection is in use by a transaction")
	}
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.fault(fn(s))
}

// Prepare prepares query on the current native connection.
func (c *Conn) Prepare(query string) (*Stmt, error) {
	var st *Stmt
	err := c.do(func(s *session) (err error) {
		st, err = s.prepare(query)
		return err
	})
	return st, err
}

// Execute prepares and executes query once.
func (c *Conn) Execute(query string, args ...any) error {
	return c.do(func(s *session) error { return s.execute(query, args) })
}

// QueryRow runs query and calls fn with the first row, returning
// ErrQueryReturnedNoRows when there is none.
func (c *Conn) QueryRow(query string, fn func(*Row) error, args ...any) error {
	return c.do(func(s *session) error { return s.queryRow(query, fn, args) })
}

// Query runs query and returns its cursor. Closing the Rows frees the
// statement.
func (c *Conn) Query(query string, args ...any) (*Rows, error) {
	var rows *Rows
	err := c.do(func(s *session) (err error) {
		rows, err = s.query(query, args)
		return err
	})
	return rows, err
}

// IdentCurrent returns the current identity value of table, 0 when the
// server reports NULL.
func (c *Conn) IdentCurrent(table string) (int64, error) {
	var id int64
	err := c.do(func(s *session) (err error) {
		id, err = s.identCurrent(table)
		return err
	})
	return id, err
}

// LastInsertID returns the identity generated by the last insert in this
// session, 0 when the server reports NULL.
func (c *Conn) LastInsertID() (int64, error) {
	var id int64
	err := c.do(func(s *session) (err error) {
		id, err = s.lastInsertID()
		return err
	})
	return id, err
}

// Ping checks that the server answers a trivial query.
func (c *Conn) Ping() error {
	return c.do(func(s *session) error {
		return s.queryRow("SELECT 1", func(*Row) error { return nil }, nil)
	})
}

// Begin turns autocommit off and returns the transaction. Until the Tx is
// finished the Conn itself rejects operations.
func (c *Conn) Begin() (*Tx, error) {
	if c.tx != nil {
		return nil, newError(KindInternal, "begin", "transaction already in progress")
	}
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	if err := s.setAutocommit(false); err != nil {
		return nil, s.fault(err)
	}
	tx := &Tx{conn: c, sess: s}
	c.tx = tx
	return tx, nil
}

// Transaction runs fn inside a transaction, committing when it returns nil
// and rolling back when it returns an error or panics.
func (c *Conn) Transaction(fn func(*Tx) error) (err error) {
	tx, err := c.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Close()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Close()
		return err
	}
	if tx.done {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dmdb: commit: %w", err)
	}
	return nil
}

// Close ends any open transaction and releases the native connection.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	if c.tx != nil {
		c.tx.finish()
	}
	if c.inner != nil {
		c.inner.close()
		c.inner = nil
	}
	c.closed = true
	return nil
}
