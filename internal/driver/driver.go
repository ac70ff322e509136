// Package driver implements a database/sql driver on top of dmdb.
//
// Each database/sql connection owns one dmdb.Conn, and therefore at most
// one native session. A connector may cap the number of sessions open at
// once (max_sessions) and bound how long Connect waits for a free slot
// (busy_timeout). Placeholders are bound natively as positional
// parameters.
package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/SimonWaldherr/dmdb"
	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

// DriverName is the name registered with database/sql.
const DriverName = "dmdb"

var defaultDrv = &drv{}

func init() {
	sql.Register(DriverName, defaultDrv)
}

type drv struct{}

// Open parses dsn and opens one connection.
func (d *drv) Open(dsn string) (driver.Conn, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector implements driver.DriverContext.
func (d *drv) OpenConnector(dsn string) (driver.Connector, error) {
	c, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	api, err := dmdb.LookupNative(c.conn.Native)
	if err != nil {
		return nil, err
	}
	return newConnector(api, c)
}

// Option configures a Connector.
type Option func(*cfg)

// WithMaxSessions caps the number of native sessions open at once. 0
// means no limit.
func WithMaxSessions(n int) Option { return func(c *cfg) { c.maxSessions = n } }

// WithBusyTimeout bounds how long Connect waits for a free session slot.
// 0 waits until the context is done.
func WithBusyTimeout(d time.Duration) Option { return func(c *cfg) { c.busyTimeout = d } }

// Connector opens connections against one native interface and config.
type Connector struct {
	api         dpi.API
	cfg         dmdb.Config
	slots       chan struct{}
	busyTimeout time.Duration
}

var _ driver.Connector = (*Connector)(nil)

// NewConnector returns a connector for use with sql.OpenDB.
func NewConnector(api dpi.API, conf dmdb.Config, opts ...Option) (*Connector, error) {
	c := cfg{conn: conf}
	for _, o := range opts {
		o(&c)
	}
	return newConnector(api, c)
}

func newConnector(api dpi.API, c cfg) (*Connector, error) {
	if err := c.conn.Validate(); err != nil {
		return nil, err
	}
	k := &Connector{api: api, cfg: c.conn, busyTimeout: c.busyTimeout}
	if c.maxSessions > 0 {
		k.slots = make(chan struct{}, c.maxSessions)
	}
	return k, nil
}

// Connect implements driver.Connector. The native session itself is
// established lazily by the first statement.
func (k *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := k.acquire(ctx); err != nil {
		return nil, err
	}
	dc, err := dmdb.Connect(k.api, k.cfg)
	if err != nil {
		k.release()
		return nil, err
	}
	return &conn{k: k, dc: dc}, nil
}

// Driver implements driver.Connector.
func (k *Connector) Driver() driver.Driver { return defaultDrv }

//nolint:gocyclo // Slot acquisition must cover timeout, context, and immediate acquisition paths.
func (k *Connector) acquire(ctx context.Context) error {
	if k.slots == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return nil
	}
	if k.busyTimeout <= 0 {
		select {
		case k.slots <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	timeout := k.busyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remain := time.Until(deadline)
		if remain <= 0 {
			return ctx.Err()
		}
		if remain < timeout {
			timeout = remain
		}
	}
	select {
	case k.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case k.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("dmdb: busy timeout after %s waiting for a session slot", timeout)
	}
}

func (k *Connector) release() {
	if k.slots == nil {
		return
	}
	select {
	case <-k.slots:
	default:
	}
}

// ------------------- connection / transactions -------------------

// querier is the part of dmdb.Conn and dmdb.Tx statements run through.
type querier interface {
	Prepare(query string) (*dmdb.Stmt, error)
	Query(query string, args ...any) (*dmdb.Rows, error)
	Execute(query string, args ...any) error
	LastInsertID() (int64, error)
}

type conn struct {
	k      *Connector
	dc     *dmdb.Conn
	tx     *dmdb.Tx
	closed bool
}

var (
	_ driver.ConnBeginTx        = (*conn)(nil)
	_ driver.ExecerContext      = (*conn)(nil)
	_ driver.QueryerContext     = (*conn)(nil)
	_ driver.Pinger             = (*conn)(nil)
	_ driver.NamedValueChecker  = (*conn)(nil)
	_ driver.Validator          = (*conn)(nil)
	_ driver.ConnPrepareContext = (*conn)(nil)
)

func (c *conn) q() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.dc
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := c.q().Prepare(query)
	if err != nil {
		return nil, err
	}
	return &stmt{c: c, st: st}, nil
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.tx = nil
	err := c.dc.Close()
	c.k.release()
	return err
}

func (c *conn) Begin() (driver.Tx, error) { return c.BeginTx(context.Background(), driver.TxOptions{}) }

func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	// Only the default isolation level is supported; other levels are rejected.
	if opts.Isolation != driver.IsolationLevel(sql.LevelDefault) {
		return nil, fmt.Errorf("dmdb: unsupported isolation level: %v", sql.IsolationLevel(opts.Isolation))
	}
	if opts.ReadOnly {
		return nil, errors.New("dmdb: read-only transactions are not supported")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := c.dc.Begin()
	if err != nil {
		return nil, err
	}
	c.tx = t
	return &tx{c: c, t: t}, nil
}

// Ping implements driver.Pinger so database/sql can health-check the connection.
func (c *conn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.tx != nil {
		return nil
	}
	return c.dc.Ping()
}

// IsValid implements driver.Validator.
func (c *conn) IsValid() bool { return !c.closed }

type tx struct {
	c *conn
	t *dmdb.Tx
}

func (t *tx) Commit() error {
	defer t.done()
	return t.t.Commit()
}

func (t *tx) Rollback() error {
	defer t.done()
	return t.t.Rollback()
}

func (t *tx) done() {
	t.t.Close()
	if t.c.tx == t.t {
		t.c.tx = nil
	}
}

// ------------------- exec / query -------------------

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vals, err := values(args)
	if err != nil {
		return nil, err
	}
	if err := c.q().Execute(query, vals...); err != nil {
		return nil, err
	}
	return &result{c: c}, nil
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vals, err := values(args)
	if err != nil {
		return nil, err
	}
	rs, err := c.q().Query(query, vals...)
	if err != nil {
		return nil, err
	}
	return &rows{rs: rs}, nil
}

// CheckNamedValue converts arguments with dmdb.ToValue, so every type
// dmdb binds is accepted as is.
func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	if nv.Name != "" {
		return fmt.Errorf("dmdb: named parameter %q is not supported", nv.Name)
	}
	v, err := dmdb.ToValue(nv.Value)
	if err != nil {
		return err
	}
	nv.Value = v
	return nil
}

func values(args []driver.NamedValue) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		if a.Name != "" {
			return nil, fmt.Errorf("dmdb: named parameter %q is not supported", a.Name)
		}
		if a.Ordinal != i+1 {
			return nil, fmt.Errorf("dmdb: parameter ordinal %d out of sequence", a.Ordinal)
		}
		out[i] = a.Value
	}
	return out, nil
}

// result reads the session identity only when asked for.
type result struct{ c *conn }

func (r *result) LastInsertId() (int64, error) { return r.c.q().LastInsertID() }

func (r *result) RowsAffected() (int64, error) {
	return 0, errors.New("dmdb: RowsAffected is not available from the native interface")
}

// ------------------- stmt / rows -------------------

type stmt struct {
	c  *conn
	st *dmdb.Stmt
}

var (
	_ driver.StmtExecContext  = (*stmt)(nil)
	_ driver.StmtQueryContext = (*stmt)(nil)
)

func (s *stmt) Close() error  { return s.st.Close() }
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), named(args))
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), named(args))
}

func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vals, err := values(args)
	if err != nil {
		return nil, err
	}
	if err := s.st.Exec(vals...); err != nil {
		return nil, err
	}
	return &result{c: s.c}, nil
}

func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vals, err := values(args)
	if err != nil {
		return nil, err
	}
	rs, err := s.st.Query(vals...)
	if err != nil {
		return nil, err
	}
	return &rows{rs: rs}, nil
}

func named(args []driver.Value) []driver.NamedValue {
	n := make([]driver.NamedValue, len(args))
	for i, v := range args {
		n[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return n
}

type rows struct {
	rs    *dmdb.Rows
	names []string
}

var (
	_ driver.RowsColumnTypeDatabaseTypeName = (*rows)(nil)
	_ driver.RowsColumnTypeNullable         = (*rows)(nil)
	_ driver.RowsColumnTypeLength           = (*rows)(nil)
)

func (r *rows) Columns() []string {
	if r.names == nil {
		cols := r.rs.Columns()
		r.names = make([]string, len(cols))
		for i, c := range cols {
			r.names[i] = c.Name
		}
	}
	return r.names
}

func (r *rows) Close() error { return r.rs.Close() }

func (r *rows) Next(dest []driver.Value) error {
	row, err := r.rs.Next()
	if err != nil {
		return err
	}
	if row == nil {
		return io.EOF
	}
	for i := range dest {
		v, err := row.Value(i + 1)
		if err != nil {
			return err
		}
		dest[i] = driverValue(v)
	}
	return nil
}

func driverValue(v dmdb.Value) driver.Value {
	switch x := v.(type) {
	case dmdb.Integer:
		return int64(x)
	case dmdb.Float:
		return float64(x)
	case dmdb.Text:
		return string(x)
	case dmdb.Blob:
		return []byte(x)
	case dmdb.DateTime:
		return x.Time()
	}
	return nil
}

func (r *rows) ColumnTypeDatabaseTypeName(i int) string { return r.rs.Columns()[i].TypeName }

func (r *rows) ColumnTypeNullable(i int) (bool, bool) { return r.rs.Columns()[i].Nullable, true }

func (r *rows) ColumnTypeLength(i int) (int64, bool) {
	c := r.rs.Columns()[i]
	switch c.TypeName {
	case "CHAR", "VARCHAR", "CLOB", "BLOB", "BINARY", "VARBINARY":
		return int64(c.Length), c.Length > 0
	}
	return 0, false
}
