package driver

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SimonWaldherr/dmdb"
)

// cfg stores the connection parameters derived from a parsed DSN.
type cfg struct {
	conn        dmdb.Config
	maxSessions int
	busyTimeout time.Duration
}

// parseDSN parses a DSN of the form
//
//	dm://user:password@host:port?charset=gb18030&chunk_size=8192
//
// An optional config=path option loads a YAML file first; the remaining
// DSN parts override it. server= replaces host:port, which lets
// non-network native interfaces use mem:// or file names.
func parseDSN(dsn string) (cfg, error) {
	var c cfg
	u, err := url.Parse(dsn)
	if err != nil {
		return c, fmt.Errorf("dmdb: invalid DSN: %w", err)
	}
	switch u.Scheme {
	case "dm", "dameng":
	default:
		return c, fmt.Errorf("dmdb: unsupported DSN scheme %q", u.Scheme)
	}
	q := u.Query()
	if path := q.Get("config"); path != "" {
		loaded, err := dmdb.LoadConfig(path)
		if err != nil {
			return c, err
		}
		c.conn = loaded
	}
	if u.Host != "" {
		c.conn.Server = u.Host
	}
	if u.User != nil {
		c.conn.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.conn.Password = pw
		}
	}
	for k, vs := range q {
		if k == "config" || len(vs) == 0 {
			continue
		}
		if err := applyDSNOption(&c, k, vs[len(vs)-1]); err != nil {
			return c, err
		}
	}
	if c.conn.Server == "" {
		return c, fmt.Errorf("dmdb: DSN names no server")
	}
	return c, nil
}

// applyDSNOption mutates the configuration in place for a single DSN option.
func applyDSNOption(c *cfg, key, value string) error {
	key = strings.ToLower(key)
	switch key {
	case "server":
		c.conn.Server = value
	case "native":
		c.conn.Native = value
	case "charset", "local_code":
		cs, err := dmdb.ParseCharset(value)
		if err != nil {
			return err
		}
		c.conn.Charset = cs
	case "chunk_size", "chunksize":
		n, err := parseSize(value, key)
		if err != nil {
			return err
		}
		c.conn.ChunkSize = n
	case "float_precision":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("dmdb: invalid %s value %q", key, value)
		}
		c.conn.FloatPrecision = n
	case "float_scale":
		n, err := strconv.ParseInt(value, 10, 16)
		if err != nil || n < 0 {
			return fmt.Errorf("dmdb: invalid %s value %q", key, value)
		}
		c.conn.FloatScale = int16(n)
	case "ident_current_sql":
		c.conn.IdentCurrentSQL = value
	case "last_insert_id_sql":
		c.conn.LastInsertIDSQL = value
	case "conn_lost_codes":
		codes, err := parseCodes(value)
		if err != nil {
			return err
		}
		c.conn.ConnLostCodes = codes
	case "max_sessions", "pool_size":
		n, err := parseSize(value, "max_sessions")
		if err != nil {
			return err
		}
		c.maxSessions = n
	case "busy_timeout", "busytimeout":
		if value == "" {
			c.busyTimeout = 0
			return nil
		}
		dur, err := parseBusyTimeout(value)
		if err != nil {
			return err
		}
		c.busyTimeout = dur
	default:
		return nil
	}
	return nil
}

func parseSize(value, key string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("dmdb: invalid %s value %q", key, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("dmdb: %s must be >= 0", key)
	}
	return n, nil
}

func parseCodes(value string) ([]int32, error) {
	var codes []int32
	for _, f := range strings.Split(value, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("dmdb: invalid conn_lost_codes entry %q", f)
		}
		codes = append(codes, int32(n))
	}
	return codes, nil
}

// parseBusyTimeout accepts a plain number of milliseconds or a Go duration.
func parseBusyTimeout(value string) (time.Duration, error) {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("dmdb: busy_timeout must be >= 0")
		}
		return time.Duration(n) * time.Millisecond, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("dmdb: invalid busy_timeout value %q", value)
	}
	if dur < 0 {
		return 0, fmt.Errorf("dmdb: busy_timeout must be >= 0")
	}
	return dur, nil
}
