// Package importer loads delimited text files into DM tables through the
// dmdb access layer.
//
// Features:
//   - Auto-detect delimiter: ',', ';', '\t', '|' (configurable)
//   - Auto-detect header row (configurable override)
//   - Encoding: UTF-8, UTF-8 BOM, UTF-16LE/BE (BOM-based) and GB18030 on request
//   - Transparent GZIP input
//   - Type inference onto DM column types (BIGINT, DOUBLE, BIT, TIMESTAMP, VARCHAR, CLOB)
//   - Batched INSERTs through prepared statements, one transaction per batch
//   - Optional CREATE TABLE and TRUNCATE
//
// Example:
//
//	f, _ := os.Open("data.csv")
//	result, err := importer.ImportCSV(ctx, conn, "mytable", f, nil)
//	fmt.Printf("Imported %d rows with %d columns\n", result.RowsInserted, len(result.ColumnNames))
package importer

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/SimonWaldherr/dmdb"
)

// ImportOptions configures the importer behavior. All fields are optional.
type ImportOptions struct {
	// BatchSize is the number of rows inserted per transaction (default 1000).
	BatchSize int

	// NullLiterals are treated as SQL NULL (case-insensitive, trimmed).
	// Defaults: "", "null", "na", "n/a", "none", "#n/a"
	NullLiterals []string

	// CreateTable issues CREATE TABLE with the inferred column types.
	CreateTable bool

	// Truncate deletes existing rows before the import.
	Truncate bool

	// HeaderMode controls header detection:
	//   "auto" (default)  → heuristic decides based on data analysis
	//   "present"         → first row is always treated as header
	//   "absent"          → first row is data, synthetic column names generated (col_1, col_2, ...)
	HeaderMode string

	// DelimiterCandidates tested during auto-detection. Default: , ; \t |
	DelimiterCandidates []rune

	// SourceEncoding forces the input encoding. Empty means detect from the
	// BOM, falling back to UTF-8. "gb18030" (or "gbk") decodes Chinese
	// legacy exports.
	SourceEncoding string

	// SampleBytes caps the amount of data used for detection (default 128KB).
	SampleBytes int

	// SampleRecords caps the number of records analyzed for type inference (default 500).
	SampleRecords int

	// DisableTypeInference creates every column as VARCHAR/CLOB.
	DisableTypeInference bool

	// DateTimeFormats lists the layouts tried when detecting TIMESTAMP columns.
	DateTimeFormats []string

	// StrictTypes aborts the import on the first row that does not convert.
	// Otherwise such rows are skipped and reported in ImportResult.Errors.
	StrictTypes bool
}

// ImportResult returns metadata about the import operation.
type ImportResult struct {
	RowsInserted int64        // Total rows successfully inserted
	RowsSkipped  int64        // Rows skipped due to conversion errors
	Delimiter    rune         // Detected or configured delimiter
	HadHeader    bool         // Whether a header row was detected/configured
	Encoding     string       // "utf-8", "utf-8-bom", "utf-16le", "utf-16be" or "gb18030"
	ColumnNames  []string     // Final column names used
	ColumnTypes  []ColumnType // Column types used for conversion and CREATE TABLE
	Errors       []string     // Non-fatal errors encountered during import
}

// ImportCSV imports delimited data from src into tableName.
//
// Rows are converted with the inferred column types and inserted in
// batches; a batch that fails is rolled back and ends the import with an
// error, leaving earlier batches committed.
func ImportCSV(ctx context.Context, conn *dmdb.Conn, tableName string, src io.Reader, opts *ImportOptions) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{CreateTable: true}
	}
	o := *opts
	applyDefaults(&o)
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	result := &ImportResult{Errors: make([]string, 0)}

	br := bufio.NewReader(maybeGzip(src))
	sample, _ := br.Peek(max(o.SampleBytes, 16))
	enc, err := chooseEncoding(sample, o.SourceEncoding)
	if err != nil {
		return nil, err
	}
	result.Encoding = enc
	sr := bufio.NewReader(decoder(br, enc))

	peek := peekN(sr, o.SampleBytes)
	lines := splitUniversal(string(peek))
	delim := detectDelimiter(lines, candidateDelims(o.DelimiterCandidates))
	result.Delimiter = delim
	hasHeader := decideHeader(parseRecords(lines, delim, o.SampleRecords), o.HeaderMode)
	result.HadHeader = hasHeader

	csvr := csv.NewReader(sr)
	csvr.Comma = delim
	csvr.FieldsPerRecord = -1
	csvr.LazyQuotes = true
	csvr.TrimLeadingSpace = true

	first, err := csvr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty input")
		}
		return nil, fmt.Errorf("read first record: %w", err)
	}

	var records [][]string
	if hasHeader {
		result.ColumnNames = sanitizeColumnNames(first)
	} else {
		result.ColumnNames = generateColumnNames(len(first))
		records = append(records, first)
	}
	for {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("read error: %v", err))
			continue
		}
		records = append(records, rec)
	}

	return load(ctx, conn, tableName, records, result, &o)
}

// load types, creates and fills tableName from records whose column names
// are already in result.
func load(ctx context.Context, conn *dmdb.Conn, tableName string, records [][]string, result *ImportResult, o *ImportOptions) (*ImportResult, error) {
	if o.DisableTypeInference {
		result.ColumnTypes = textColumns(records, len(result.ColumnNames))
	} else {
		result.ColumnTypes = inferColumnTypes(records[:min(len(records), o.SampleRecords)], len(result.ColumnNames), o)
		widenText(result.ColumnTypes, records)
	}

	if o.CreateTable {
		if err := createTable(conn, tableName, result.ColumnNames, result.ColumnTypes); err != nil {
			return result, fmt.Errorf("create table: %w", err)
		}
	}
	if o.Truncate {
		if err := truncateTable(conn, tableName); err != nil {
			return result, fmt.Errorf("truncate table: %w", err)
		}
	}

	if err := insertAllRecords(ctx, conn, tableName, records, result, o); err != nil {
		return result, err
	}
	return result, nil
}

func applyDefaults(o *ImportOptions) {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if len(o.NullLiterals) == 0 {
		o.NullLiterals = []string{"", "null", "na", "n/a", "none", "#n/a"}
	}
	if o.HeaderMode == "" {
		o.HeaderMode = "auto"
	}
	if len(o.DelimiterCandidates) == 0 {
		o.DelimiterCandidates = []rune{',', ';', '\t', '|'}
	}
	if o.SampleBytes <= 0 {
		o.SampleBytes = 128 * 1024
	}
	if o.SampleRecords <= 0 {
		o.SampleRecords = 500
	}
	if len(o.DateTimeFormats) == 0 {
		o.DateTimeFormats = []string{
			time.RFC3339Nano,
			"2006-01-02 15:04:05.999999",
			"2006-01-02T15:04:05",
			"2006-01-02",
			"01/02/2006 15:04:05",
			"01/02/2006",
			"02.01.2006 15:04:05",
			"02.01.2006",
		}
	}
}

func maybeGzip(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(2)
	if len(magic) >= 2 && magic[0] == 0x1F && magic[1] == 0x8B {
		gr, err := gzip.NewReader(br)
		if err == nil {
			return gr
		}
	}
	return br
}

// chooseEncoding honours a forced encoding, else inspects the BOM.
func chooseEncoding(sample []byte, forced string) (string, error) {
	switch strings.ToLower(strings.ReplaceAll(forced, "-", "")) {
	case "":
	case "utf8":
		if len(sample) >= 3 && sample[0] == 0xEF && sample[1] == 0xBB && sample[2] == 0xBF {
			return "utf-8-bom", nil
		}
		return "utf-8", nil
	case "gb18030", "gbk":
		return "gb18030", nil
	case "utf16le":
		return "utf-16le", nil
	case "utf16be":
		return "utf-16be", nil
	default:
		return "", fmt.Errorf("unsupported source encoding %q", forced)
	}
	switch {
	case len(sample) >= 3 && sample[0] == 0xEF && sample[1] == 0xBB && sample[2] == 0xBF:
		return "utf-8-bom", nil
	case len(sample) >= 2 && sample[0] == 0xFF && sample[1] == 0xFE:
		return "utf-16le", nil
	case len(sample) >= 2 && sample[0] == 0xFE && sample[1] == 0xFF:
		return "utf-16be", nil
	}
	return "utf-8", nil
}

// decoder wraps r so it yields UTF-8 without a byte order mark.
func decoder(r io.Reader, enc string) io.Reader {
	var e encoding.Encoding
	switch enc {
	case "utf-8-bom":
		e = unicode.UTF8BOM
	case "utf-16le":
		e = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case "utf-16be":
		e = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	case "gb18030":
		e = simplifiedchinese.GB18030
	default:
		return r
	}
	return transform.NewReader(r, e.NewDecoder())
}
