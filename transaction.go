package dmdb

import "log/slog"

// Tx is a transaction pinned to the native connection it began on.
//
// Commit and Rollback issue the statement and then restore autocommit.
// Close is the scope exit action: it rolls back unless the Tx already
// finished, restores autocommit and ignores every error, so
//
//	tx, err := conn.Begin()
//	if err != nil { ... }
//	defer tx.Close()
//
// never leaves the connection inside a transaction.
type Tx struct {
	conn *Conn
	sess *session
	done bool
}

func (tx *Tx) do(fn func(*session) error) error {
	if tx.done {
		return ErrTxDone
	}
	if err := tx.sess.usable(); err != nil {
		return err
	}
	return tx.sess.fault(fn(tx.sess))
}

// Prepare prepares query inside the transaction.
func (tx *Tx) Prepare(query string) (*Stmt, error) {
	var st *Stmt
	err := tx.do(func(s *session) (err error) {
		st, err = s.prepare(query)
		return err
	})
	return st, err
}

// Execute prepares and executes query once inside the transaction.
func (tx *Tx) Execute(query string, args ...any) error {
	return tx.do(func(s *session) error { return s.execute(query, args) })
}

// QueryRow is Conn.QueryRow inside the transaction.
func (tx *Tx) QueryRow(query string, fn func(*Row) error, args ...any) error {
	return tx.do(func(s *session) error { return s.queryRow(query, fn, args) })
}

// Query is Conn.Query inside the transaction.
func (tx *Tx) Query(query string, args ...any) (*Rows, error) {
	var rows *Rows
	err := tx.do(func(s *session) (err error) {
		rows, err = s.query(query, args)
		return err
	})
	return rows, err
}

// IdentCurrent is Conn.IdentCurrent inside the transaction.
func (tx *Tx) IdentCurrent(table string) (int64, error) {
	var id int64
	err := tx.do(func(s *session) (err error) {
		id, err = s.identCurrent(table)
		return err
	})
	return id, err
}

// LastInsertID is Conn.LastInsertID inside the transaction.
func (tx *Tx) LastInsertID() (int64, error) {
	var id int64
	err := tx.do(func(s *session) (err error) {
		id, err = s.lastInsertID()
		return err
	})
	return id, err
}

// Commit commits the transaction.
func (tx *Tx) Commit() error { return tx.end("COMMIT") }

// Rollback rolls the transaction back.
func (tx *Tx) Rollback() error { return tx.end("ROLLBACK") }

func (tx *Tx) end(verb string) error {
	err := tx.do(func(s *session) error { return s.execute(verb, nil) })
	if err == ErrTxDone {
		return err
	}
	tx.finish()
	return err
}

// Close rolls back an unfinished transaction. It always returns nil.
func (tx *Tx) Close() error {
	tx.finish()
	return nil
}

// finish marks the Tx done, issues a best effort ROLLBACK and switches
// autocommit back on.
func (tx *Tx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.conn.tx == tx {
		tx.conn.tx = nil
	}
	s := tx.sess
	if s.closed {
		return
	}
	if err := s.execute("ROLLBACK", nil); err != nil {
		s.log.Debug("dmdb: rollback on transaction end failed", slog.Any("err", err))
		s.fault(err)
	}
	if s.closed {
		return
	}
	if err := s.setAutocommit(true); err != nil {
		s.log.Debug("dmdb: restoring autocommit failed", slog.Any("err", err))
		s.fault(err)
	}
}
