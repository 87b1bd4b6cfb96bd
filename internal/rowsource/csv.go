package rowsource

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/schema"
)

var delimiterCandidates = []rune{',', ';', '\t', '|'}

const sniffRecords = 50

// SniffCSV detects parsing properties from a decoded sample. opts.Delimiter and
// opts.NoHeader override detection. NumLines is left to the caller.
func SniffCSV(sample []byte, opts types.AnalysisOptions) types.FileProps {
	props := types.FileProps{
		LinesDelimiter: "\n",
		EscapeChar:     `"`,
		HasHeader:      !opts.NoHeader,
	}
	if bytes.Contains(sample, []byte("\r\n")) {
		props.LinesDelimiter = "\r\n"
	}
	if opts.Delimiter != "" {
		props.FieldsDelimiter = opts.Delimiter
		return props
	}
	props.FieldsDelimiter = string(sniffDelimiter(sample))
	return props
}

// sniffDelimiter prefers the candidate that splits the first records into the most
// columns of a consistent width.
func sniffDelimiter(sample []byte) rune {
	if i := bytes.LastIndexByte(sample, '\n'); i > 0 {
		sample = sample[:i]
	}
	best, bestScore := delimiterCandidates[0], 0
	for _, c := range delimiterCandidates {
		r := newCSVReader(bytes.NewReader(sample), c)
		width, consistent := -1, 0
		for i := 0; i < sniffRecords; i++ {
			rec, err := r.Read()
			if err != nil {
				break
			}
			if width < 0 {
				width = len(rec)
			}
			if len(rec) == width {
				consistent++
			}
		}
		if width < 2 {
			continue
		}
		if score := consistent * width; score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

func newCSVReader(r io.Reader, comma rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}

func commaOf(props *types.FileProps) rune {
	if props == nil || props.FieldsDelimiter == "" {
		return ','
	}
	for _, r := range props.FieldsDelimiter {
		return r
	}
	return ','
}

// HeaderFields builds positional string fields from header labels. Keys are escaped and
// made unique, labels are kept as original names.
func HeaderFields(labels []string) []types.Field {
	seen := map[string]int{}
	out := make([]types.Field, 0, len(labels))
	for i, label := range labels {
		if i == 0 {
			label = strings.TrimPrefix(label, "\ufeff")
		}
		key := schema.EscapeKey(label)
		if seen[key] > 0 {
			seen[key]++
			key = key + "_" + strconv.Itoa(seen[key])
		} else {
			seen[key] = 1
		}
		out = append(out, types.Field{Key: key, Type: types.TypeString, OriginalName: label})
	}
	return out
}

func generatedFields(n int) []types.Field {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("col%d", i+1)
	}
	return HeaderFields(labels)
}

// ReadCSV streams decoded csv records as maps keyed by the positional file schema. Empty
// cells and columns beyond the schema are left out.
func ReadCSV(r io.Reader, props *types.FileProps, fileSchema []types.Field) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		cr := newCSVReader(r, commaOf(props))
		first := true
		for {
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("read csv: %w", err))
				return
			}
			if first {
				first = false
				if props == nil || props.HasHeader {
					continue
				}
			}
			row := make(map[string]any, len(rec))
			for i, cell := range rec {
				if i >= len(fileSchema) || cell == "" {
					continue
				}
				row[fileSchema[i].Key] = cell
			}
			if len(row) == 0 {
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}
