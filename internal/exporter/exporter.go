// Package exporter renders dmdb result sets as text, CSV, JSON, YAML, XML
// or gob.
package exporter

import (
	"encoding/csv"
	"encoding/gob"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SimonWaldherr/dmdb"
)

// ResultSet is a fully read query result.
type ResultSet struct {
	Cols []string
	Rows [][]dmdb.Value
}

// Collect reads every remaining row of rows and closes it.
func Collect(rows *dmdb.Rows) (*ResultSet, error) {
	defer rows.Close()
	rs := &ResultSet{}
	for _, c := range rows.Columns() {
		rs.Cols = append(rs.Cols, c.Name)
	}
	for {
		row, err := rows.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return rs, nil
		}
		vals, err := row.Values()
		if err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, vals)
	}
}

// Options controls exporter behavior.
type Options struct {
	PrettyJSON   bool
	NoHeader     bool
	CSVDelimiter rune
}

// Format names an output format accepted by Export.
type Format string

const (
	FormatColumn Format = "column"
	FormatList   Format = "list"
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatXML    Format = "xml"
	FormatGOB    Format = "gob"
)

// Export writes rs to w in format f.
func Export(w io.Writer, rs *ResultSet, f Format, opts Options) error {
	switch f {
	case FormatColumn, "table", "":
		return ExportColumn(w, rs, opts)
	case FormatList:
		return ExportList(w, rs, opts)
	case FormatCSV:
		return ExportCSV(w, rs, opts)
	case FormatJSON:
		return ExportJSON(w, rs, opts)
	case FormatYAML:
		return ExportYAML(w, rs)
	case FormatXML:
		return ExportXML(w, rs)
	case FormatGOB:
		return ExportGOB(w, rs)
	}
	return fmt.Errorf("unknown output format %q", f)
}

// valueToString renders NULL as the empty string and everything else in
// its canonical text form.
func valueToString(v dmdb.Value) string {
	if v == nil || v.Type() == dmdb.TypeNull {
		return ""
	}
	return v.String()
}

// plain maps a value onto the Go types the JSON and YAML encoders know.
func plain(v dmdb.Value) any {
	switch x := v.(type) {
	case nil, dmdb.Null:
		return nil
	case dmdb.Integer:
		return int64(x)
	case dmdb.Float:
		return float64(x)
	case dmdb.Text:
		return string(x)
	}
	return v.String()
}

// ExportColumn writes aligned columns separated by two spaces. The last
// column is not padded.
func ExportColumn(w io.Writer, rs *ResultSet, opts Options) error {
	widths := make([]int, len(rs.Cols))
	if !opts.NoHeader {
		for i, c := range rs.Cols {
			widths[i] = len(c)
		}
	}
	for _, row := range rs.Rows {
		for i, v := range row {
			if n := len(v.String()); n > widths[i] {
				widths[i] = n
			}
		}
	}
	line := func(cells []string) error {
		var b strings.Builder
		for i, c := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(c)
			if i < len(cells)-1 && len(c) < widths[i] {
				b.WriteString(strings.Repeat(" ", widths[i]-len(c)))
			}
		}
		b.WriteByte('\n')
		_, err := io.WriteString(w, b.String())
		return err
	}
	if !opts.NoHeader {
		if err := line(rs.Cols); err != nil {
			return err
		}
		rule := make([]string, len(rs.Cols))
		for i := range rule {
			rule[i] = strings.Repeat("-", widths[i])
		}
		if err := line(rule); err != nil {
			return err
		}
	}
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.String()
		}
		if err := line(cells); err != nil {
			return err
		}
	}
	return nil
}

// ExportList writes one row per line with | between cells, prefixed by
// the column name unless opts.NoHeader is set.
func ExportList(w io.Writer, rs *ResultSet, opts Options) error {
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.String()
			if !opts.NoHeader {
				cells[i] = rs.Cols[i] + "=" + cells[i]
			}
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "|")); err != nil {
			return err
		}
	}
	return nil
}

// ExportCSV writes rows as CSV to w. Column order is preserved and NULL
// is an empty field.
func ExportCSV(w io.Writer, rs *ResultSet, opts Options) error {
	csvw := csv.NewWriter(w)
	if opts.CSVDelimiter != 0 {
		csvw.Comma = opts.CSVDelimiter
	}
	if !opts.NoHeader {
		if err := csvw.Write(rs.Cols); err != nil {
			return err
		}
	}
	for _, r := range rs.Rows {
		rec := make([]string, len(r))
		for i, v := range r {
			rec[i] = valueToString(v)
		}
		if err := csvw.Write(rec); err != nil {
			return err
		}
	}
	csvw.Flush()
	return csvw.Error()
}

// ExportJSON writes rows as a JSON array of objects keyed by column name.
func ExportJSON(w io.Writer, rs *ResultSet, opts Options) error {
	enc := json.NewEncoder(w)
	if opts.PrettyJSON {
		enc.SetIndent("", "  ")
	}
	out := make([]map[string]any, len(rs.Rows))
	for i, r := range rs.Rows {
		m := make(map[string]any, len(rs.Cols))
		for j, v := range r {
			m[rs.Cols[j]] = plain(v)
		}
		out[i] = m
	}
	return enc.Encode(out)
}

// ExportYAML writes a sequence of mappings, keeping the column order.
func ExportYAML(w io.Writer, rs *ResultSet) error {
	doc := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range rs.Rows {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for j, v := range r {
			var val yaml.Node
			if err := val.Encode(plain(v)); err != nil {
				return err
			}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: rs.Cols[j]}, &val)
		}
		doc.Content = append(doc.Content, m)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

type xmlField struct {
	XMLName xml.Name
	Null    bool   `xml:"null,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type xmlRow struct {
	Fields []xmlField `xml:",any"`
}

type xmlRows struct {
	XMLName xml.Name `xml:"rows"`
	Rows    []xmlRow `xml:"row"`
}

// ExportXML writes <rows><row><col>value</col>...</row>...</rows>. NULL
// cells carry null="true".
func ExportXML(w io.Writer, rs *ResultSet) error {
	xr := xmlRows{Rows: make([]xmlRow, 0, len(rs.Rows))}
	for _, r := range rs.Rows {
		row := xmlRow{Fields: make([]xmlField, 0, len(r))}
		for j, v := range r {
			row.Fields = append(row.Fields, xmlField{
				XMLName: xml.Name{Local: rs.Cols[j]},
				Null:    v.Type() == dmdb.TypeNull,
				Value:   valueToString(v),
			})
		}
		xr.Rows = append(xr.Rows, row)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(xr); err != nil {
		return err
	}
	return enc.Flush()
}

// gobCell is the wire form of one value. Null has no fields for gob to
// carry, so the variant travels as an explicit tag.
type gobCell struct {
	Type  dmdb.ValueType
	Int   int64
	Float float64
	Text  string
	Bytes []byte
	Time  dmdb.DateTime
}

type gobResultSet struct {
	Cols []string
	Rows [][]gobCell
}

// ExportGOB encodes the result set with gob. DecodeGOB reads it back.
func ExportGOB(w io.Writer, rs *ResultSet) error {
	g := gobResultSet{Cols: rs.Cols, Rows: make([][]gobCell, len(rs.Rows))}
	for i, r := range rs.Rows {
		cells := make([]gobCell, len(r))
		for j, v := range r {
			c := gobCell{Type: v.Type()}
			switch x := v.(type) {
			case dmdb.Integer:
				c.Int = int64(x)
			case dmdb.Float:
				c.Float = float64(x)
			case dmdb.Text:
				c.Text = string(x)
			case dmdb.Blob:
				c.Bytes = x
			case dmdb.DateTime:
				c.Time = x
			}
			cells[j] = c
		}
		g.Rows[i] = cells
	}
	return gob.NewEncoder(w).Encode(g)
}

// DecodeGOB reads a result set written by ExportGOB.
func DecodeGOB(r io.Reader) (*ResultSet, error) {
	var g gobResultSet
	if err := gob.NewDecoder(r).Decode(&g); err != nil {
		return nil, err
	}
	rs := &ResultSet{Cols: g.Cols, Rows: make([][]dmdb.Value, len(g.Rows))}
	for i, cells := range g.Rows {
		row := make([]dmdb.Value, len(cells))
		for j, c := range cells {
			switch c.Type {
			case dmdb.TypeNull:
				row[j] = dmdb.Null{}
			case dmdb.TypeInteger:
				row[j] = dmdb.Integer(c.Int)
			case dmdb.TypeFloat:
				row[j] = dmdb.Float(c.Float)
			case dmdb.TypeText:
				row[j] = dmdb.Text(c.Text)
			case dmdb.TypeBlob:
				row[j] = dmdb.Blob(c.Bytes)
			case dmdb.TypeDateTime:
				row[j] = c.Time
			default:
				return nil, fmt.Errorf("gob: unknown value type %d", c.Type)
			}
		}
		rs.Rows[i] = row
	}
	return rs, nil
}
