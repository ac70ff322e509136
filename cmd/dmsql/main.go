// Command dmsql runs SQL text against a DM server through the dmdb access
// layer and prints the result sets.
//
//	dmsql -server 127.0.0.1:5236 -user SYSDBA -password SYSDBA -cmd "SELECT 1"
//	dmsql -config dm.yml -mode csv report.sql
//	dmsql -config dm.yml -schedule "0 */5 * * * *" refresh.sql
//	dmsql -config dm.yml -import parts.csv.gz -table parts
//
// SQL comes from -cmd, from the script files named as arguments or from
// standard input, in that order of preference.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/SimonWaldherr/dmdb"
	"github.com/SimonWaldherr/dmdb/internal/dpi"
	_ "github.com/SimonWaldherr/dmdb/internal/dpi/cdpi"
	"github.com/SimonWaldherr/dmdb/internal/dpi/litedpi"
	"github.com/SimonWaldherr/dmdb/internal/exporter"
	"github.com/SimonWaldherr/dmdb/internal/importer"
)

// liteNative is the in-process SQLite stand-in, useful for trying scripts
// without a server.
const liteNative = "lite"

func init() {
	dpi.Register(liteNative, litedpi.New())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	exitIfErr(run(ctx, os.Args[1:], os.Stdin, os.Stdout))
}

func exitIfErr(err error) {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return
	}
	fmt.Fprintln(os.Stderr, "dmsql:", err)
	os.Exit(1)
}

type options struct {
	mode     exporter.Format
	headers  bool
	echo     bool
	schedule string
	runs     int
}

func run(ctx context.Context, args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("dmsql", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "YAML connection config file")
	server := fs.String("server", "", "Server address (overrides config)")
	user := fs.String("user", "", "Login user (overrides config)")
	password := fs.String("password", "", "Login password (overrides config)")
	native := fs.String("native", "", "Native interface: "+strings.Join(dpi.Registered(), ", "))
	charset := fs.String("charset", "", "Session charset: utf8 or gb18030")
	mode := fs.String("mode", string(exporter.FormatColumn), "Output mode: column|list|csv|json|yaml|xml|gob")
	headers := fs.Bool("header", true, "Include column headers in column, list and csv output")
	echo := fs.Bool("echo", false, "Echo SQL statements before execution")
	cmd := fs.String("cmd", "", "Execute the provided SQL")
	schedule := fs.String("schedule", "", "Cron expression (with seconds) to re-run the SQL on")
	runs := fs.Int("runs", 0, "Stop after this many scheduled runs (0 runs until interrupted)")
	verbose := fs.Bool("v", false, "Log connection events to stderr")
	importPath := fs.String("import", "", "CSV (optionally gzipped) or .shp file to load before running SQL")
	importTable := fs.String("table", "", "Target table for -import (default: file name)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg dmdb.Config
	if *configPath != "" {
		loaded, err := dmdb.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	override(&cfg.Server, *server)
	override(&cfg.User, *user)
	override(&cfg.Password, *password)
	override(&cfg.Native, *native)
	if *charset != "" {
		cfg.Charset = dmdb.Charset(*charset)
	}
	if *verbose {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	var sqlText string
	if *importPath == "" || *cmd != "" || fs.NArg() > 0 {
		text, err := readSQL(*cmd, fs.Args(), stdin)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return errors.New("no SQL supplied")
		}
		sqlText = text
	}

	conn, err := dmdb.Open(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if *importPath != "" {
		if err := importFile(ctx, conn, *importPath, *importTable, out); err != nil {
			return err
		}
		if sqlText == "" {
			return nil
		}
	}

	opts := options{mode: exporter.Format(*mode), headers: *headers, echo: *echo, schedule: *schedule, runs: *runs}
	if opts.schedule == "" {
		return executeSQLStatements(conn, sqlText, opts, out)
	}
	return runScheduled(ctx, conn, sqlText, opts, out, cfg.Logger)
}

// importFile loads path into table, creating it from the inferred column
// types.
func importFile(ctx context.Context, conn *dmdb.Conn, path, table string, out io.Writer) error {
	if table == "" {
		base := filepath.Base(path)
		table = strings.SplitN(base, ".", 2)[0]
	}
	opts := &importer.ImportOptions{CreateTable: true}
	var (
		res *importer.ImportResult
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		res, err = importer.ImportShapefile(ctx, conn, table, path, opts)
	} else {
		f, ferr := os.Open(path)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		res, err = importer.ImportCSV(ctx, conn, table, f, opts)
	}
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	fmt.Fprintf(out, "imported %d rows into %s\n", res.RowsInserted, table)
	if res.RowsSkipped > 0 {
		fmt.Fprintf(out, "skipped %d rows\n", res.RowsSkipped)
	}
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func readSQL(cmd string, files []string, stdin io.Reader) (string, error) {
	if cmd != "" {
		return cmd, nil
	}
	if len(files) > 0 {
		var b strings.Builder
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return "", err
			}
			b.Write(data)
			b.WriteString("\n;\n")
		}
		return b.String(), nil
	}
	if stdin == nil {
		return "", nil
	}
	data, err := io.ReadAll(stdin)
	return string(data), err
}

// parser accepts six field expressions and descriptors like @every 5m.
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// runScheduled executes the statements on every tick of spec until ctx is
// done or opts.runs runs have completed. A failing run is logged and does
// not stop the schedule. Runs never overlap, so the Conn is only used from
// one goroutine at a time.
func runScheduled(ctx context.Context, conn *dmdb.Conn, sqlText string, opts options, out io.Writer, log *slog.Logger) error {
	sched, err := parser.Parse(opts.schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", opts.schedule, err)
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		done int
	)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := executeSQLStatements(conn, sqlText, opts, out); err != nil {
			log.Error("scheduled run failed", "run", done+1, "err", err)
		}
		done++
		if opts.runs > 0 && done >= opts.runs {
			cancel()
		}
	}))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func executeSQLStatements(conn *dmdb.Conn, sqlText string, opts options, out io.Writer) error {
	for _, raw := range splitStatements(sqlText) {
		if opts.echo {
			fmt.Fprintln(out, raw)
		}
		rs, err := query(conn, raw)
		if err != nil {
			return err
		}
		if rs == nil {
			fmt.Fprintln(out, "OK")
			continue
		}
		if err := exporter.Export(out, rs, opts.mode, exporter.Options{NoHeader: !opts.headers, PrettyJSON: true}); err != nil {
			return err
		}
	}
	return nil
}

// query runs one statement. It returns nil for statements without a
// result set.
func query(conn *dmdb.Conn, q string) (*exporter.ResultSet, error) {
	rows, err := conn.Query(q)
	if err != nil {
		return nil, err
	}
	if len(rows.Columns()) == 0 {
		return nil, rows.Close()
	}
	return exporter.Collect(rows)
}

// splitStatements splits sql on semicolons outside quotes and comments.
func splitStatements(sql string) []string {
	var (
		stmts []string
		buf   strings.Builder
		quote byte
		line  bool
		block bool
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" && !onlyComments(s) {
			stmts = append(stmts, s)
		}
		buf.Reset()
	}
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		var next byte
		if i+1 < len(sql) {
			next = sql[i+1]
		}
		switch {
		case line:
			line = ch != '\n'
		case block:
			if ch == '*' && next == '/' {
				block = false
				buf.WriteByte(ch)
				ch = next
				i++
			}
		case quote != 0:
			if ch == quote {
				if next == quote {
					buf.WriteByte(ch)
					i++
				} else {
					quote = 0
				}
			}
		case ch == '-' && next == '-':
			line = true
		case ch == '/' && next == '*':
			block = true
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == ';':
			flush()
			continue
		}
		buf.WriteByte(ch)
	}
	flush()
	return stmts
}

func onlyComments(s string) bool {
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l != "" && !strings.HasPrefix(l, "--") {
			return false
		}
	}
	return true
}
