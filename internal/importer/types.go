package importer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ColumnType is the DM column type chosen for an imported column.
type ColumnType struct {
	Kind ColumnKind
	// Size is the VARCHAR length in characters.
	Size int
}

// ColumnKind enumerates the types the importer creates.
type ColumnKind int

const (
	KindVarchar ColumnKind = iota
	KindClob
	KindBigInt
	KindDouble
	KindBit
	KindTimestamp
)

// maxVarchar is the longest VARCHAR the importer declares; longer text
// columns become CLOB.
const maxVarchar = 8188

// SQL returns the column type as used in CREATE TABLE.
func (t ColumnType) SQL() string {
	switch t.Kind {
	case KindClob:
		return "CLOB"
	case KindBigInt:
		return "BIGINT"
	case KindDouble:
		return "DOUBLE"
	case KindBit:
		return "BIT"
	case KindTimestamp:
		return "TIMESTAMP"
	}
	return fmt.Sprintf("VARCHAR(%d)", max(t.Size, 1))
}

func (t ColumnType) String() string { return t.SQL() }

// inferColumnTypes votes per column over the sample: BIT, BIGINT, DOUBLE
// and TIMESTAMP win when they cover at least 80% of the non-null values,
// everything else is text.
func inferColumnTypes(sample [][]string, numCols int, opts *ImportOptions) []ColumnType {
	types := make([]ColumnType, numCols)
	for c := 0; c < numCols; c++ {
		votes := make(map[ColumnKind]int)
		total := 0
		for _, row := range sample {
			if c >= len(row) || isNullValue(row[c], opts.NullLiterals) {
				continue
			}
			votes[detectKind(strings.TrimSpace(row[c]), opts.DateTimeFormats)]++
			total++
		}
		types[c] = ColumnType{Kind: decideKind(votes, total)}
	}
	return types
}

func detectKind(val string, dateFormats []string) ColumnKind {
	switch strings.ToLower(val) {
	case "true", "false", "yes", "no", "t", "f", "y", "n":
		return KindBit
	}
	if _, err := strconv.ParseInt(val, 10, 64); err == nil {
		return KindBigInt
	}
	if _, err := strconv.ParseFloat(val, 64); err == nil {
		return KindDouble
	}
	if _, err := parseDateTime(val, dateFormats); err == nil {
		return KindTimestamp
	}
	return KindVarchar
}

func decideKind(votes map[ColumnKind]int, total int) ColumnKind {
	if total == 0 {
		return KindVarchar
	}
	threshold := float64(total) * 0.80
	switch {
	case float64(votes[KindBit]) >= threshold:
		return KindBit
	case float64(votes[KindTimestamp]) >= threshold:
		return KindTimestamp
	case float64(votes[KindBigInt]) >= threshold && votes[KindDouble] == 0:
		return KindBigInt
	case float64(votes[KindBigInt]+votes[KindDouble]) >= threshold:
		return KindDouble
	}
	return KindVarchar
}

// widenText sizes the text columns from every record, not just the sample.
func widenText(types []ColumnType, records [][]string) {
	for c := range types {
		if types[c].Kind != KindVarchar {
			continue
		}
		n := 0
		for _, r := range records {
			if c < len(r) {
				n = max(n, utf8.RuneCountInString(strings.TrimSpace(r[c])))
			}
		}
		if n > maxVarchar {
			types[c] = ColumnType{Kind: KindClob}
		} else {
			types[c].Size = n
		}
	}
}

func textColumns(records [][]string, numCols int) []ColumnType {
	types := make([]ColumnType, numCols)
	widenText(types, records)
	return types
}

func isNullValue(val string, nullLiterals []string) bool {
	trimmed := strings.TrimSpace(val)
	for _, nl := range nullLiterals {
		if strings.EqualFold(trimmed, strings.TrimSpace(nl)) {
			return true
		}
	}
	return false
}

// convertValue converts a cell to the Go value bound for its column. A nil
// result means NULL.
func convertValue(val string, t ColumnType, opts *ImportOptions) (any, error) {
	val = strings.TrimSpace(val)
	if isNullValue(val, opts.NullLiterals) {
		return nil, nil
	}
	switch t.Kind {
	case KindBit:
		return parseBool(val)
	case KindBigInt:
		return strconv.ParseInt(val, 10, 64)
	case KindDouble:
		return strconv.ParseFloat(val, 64)
	case KindTimestamp:
		return parseDateTime(val, opts.DateTimeFormats)
	}
	return val, nil
}

func parseBool(val string) (bool, error) {
	switch strings.ToLower(val) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", val)
}

func parseDateTime(val string, formats []string) (time.Time, error) {
	for _, layout := range formats {
		if t, err := time.Parse(layout, val); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time %q", val)
}
