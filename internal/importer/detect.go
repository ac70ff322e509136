package importer

import (
	"bufio"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

func candidateDelims(c []rune) []rune {
	out := make([]rune, 0, len(c))
	for _, r := range c {
		if r != 0 {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return []rune{',', ';', '\t', '|'}
	}
	return out
}

func peekN(br *bufio.Reader, n int) []byte {
	b, _ := br.Peek(max(n, 1))
	return b
}

// splitUniversal splits on \n, \r\n and \r and drops a trailing empty line.
func splitUniversal(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	out := strings.Split(s, "\n")
	if n := len(out); n > 0 && out[n-1] == "" {
		out = out[:n-1]
	}
	return out
}

func parseRecords(lines []string, delim rune, maxRecs int) [][]string {
	var out [][]string
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		out = append(out, splitOutsideQuotes(ln, delim))
		if maxRecs > 0 && len(out) >= maxRecs {
			break
		}
	}
	return out
}

// detectDelimiter picks the candidate whose field count varies least across
// the sample, preferring more fields on a tie. Candidates that never split a
// line are ignored.
func detectDelimiter(lines []string, cands []rune) rune {
	best, bestSD, bestFields := ',', math.Inf(1), 0
	for _, cand := range cands {
		var counts []int
		for _, ln := range lines {
			if strings.TrimSpace(ln) == "" {
				continue
			}
			if len(counts) == 200 {
				break
			}
			counts = append(counts, len(splitOutsideQuotes(ln, cand)))
		}
		fields := mode(counts)
		if fields <= 1 {
			continue
		}
		sd := stddev(counts)
		if sd < bestSD || (math.Abs(sd-bestSD) < 1e-9 && fields > bestFields) {
			best, bestSD, bestFields = cand, sd, fields
		}
	}
	return best
}

// splitOutsideQuotes splits one line on delim, honouring "quoted, fields"
// with "" as an escaped quote.
func splitOutsideQuotes(ln string, delim rune) []string {
	var (
		out []string
		sb  strings.Builder
		inQ bool
	)
	for i := 0; i < len(ln); {
		r, w := utf8.DecodeRuneInString(ln[i:])
		i += w
		switch {
		case r == '"' && inQ:
			if next, w2 := utf8.DecodeRuneInString(ln[i:]); next == '"' {
				i += w2
				sb.WriteRune('"')
				continue
			}
			inQ = false
		case r == '"' && sb.Len() == 0:
			inQ = true
		case r == delim && !inQ:
			out = append(out, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	return append(out, sb.String())
}

// decideHeader reports whether the first record names the columns. In auto
// mode it does when at least half of the columns are mostly numeric in the
// body but not in the first record.
func decideHeader(records [][]string, mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "present":
		return true
	case "absent":
		return false
	}
	if len(records) < 2 {
		return false
	}
	first, body := records[0], records[1:]
	headerish := 0
	for c := range first {
		if looksNumeric(first[c]) {
			continue
		}
		numeric, rows := 0, 0
		for _, r := range body {
			if c >= len(r) {
				continue
			}
			if looksNumeric(r[c]) {
				numeric++
			}
			rows++
		}
		if rows > 0 && float64(numeric)/float64(rows) > 0.6 {
			headerish++
		}
	}
	return float64(headerish)/float64(len(first)) >= 0.5
}

func looksNumeric(s string) bool {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func stddev(vals []int) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += float64(v)
	}
	avg := sum / float64(len(vals))
	var ss float64
	for _, v := range vals {
		d := float64(v) - avg
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)))
}

// mode returns the most frequent value, the larger one on a tie.
func mode(vals []int) int {
	if len(vals) == 0 {
		return 0
	}
	freq := map[int]int{}
	for _, v := range vals {
		freq[v]++
	}
	keys := make([]int, 0, len(freq))
	for v := range freq {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool {
		if freq[keys[i]] == freq[keys[j]] {
			return keys[i] > keys[j]
		}
		return freq[keys[i]] > freq[keys[j]]
	})
	return keys[0]
}

// sanitizeColumnNames maps header cells onto plain identifiers.
func sanitizeColumnNames(h []string) []string {
	out := make([]string, len(h))
	seen := make(map[string]int)
	for i, s := range h {
		s = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
				return r
			}
			return '_'
		}, strings.TrimSpace(s))
		if s == "" || strings.Trim(s, "_") == "" {
			s = fmt.Sprintf("col_%d", i+1)
		}
		if s[0] >= '0' && s[0] <= '9' {
			s = "c_" + s
		}
		key := strings.ToLower(s)
		if n := seen[key]; n > 0 {
			s = fmt.Sprintf("%s_%d", s, n+1)
		}
		seen[key]++
		out[i] = s
	}
	return out
}

func generateColumnNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("col_%d", i+1)
	}
	return out
}
