// Package rowsource reads the rows of an uploaded data file. It handles csv and geojson,
// decodes legacy encodings and detects csv parsing properties.
package rowsource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/schema"
)

const sampleSize = 64 << 10

// Analysis is what the analyzer stores on the dataset file.
type Analysis struct {
	Encoding string
	Props    *types.FileProps
	Schema   []types.Field
}

// Analyze reads a whole data file once to detect its encoding, parsing properties, line
// count and raw schema.
func Analyze(r io.Reader, mimeType string, opts types.AnalysisOptions) (*Analysis, error) {
	switch mimeType {
	case types.MimeCSV:
		return analyzeCSV(r, opts)
	case types.MimeGeoJSON:
		return analyzeGeoJSON(r)
	default:
		return nil, fmt.Errorf("unsupported file type %q", mimeType)
	}
}

func peek(br *bufio.Reader) ([]byte, error) {
	sample, err := br.Peek(sampleSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	return sample, nil
}

func analyzeCSV(r io.Reader, opts types.AnalysisOptions) (*Analysis, error) {
	raw := bufio.NewReaderSize(r, sampleSize)
	rawSample, err := peek(raw)
	if err != nil {
		return nil, fmt.Errorf("read sample: %w", err)
	}
	enc := opts.Encoding
	if enc == "" {
		enc = DetectEncoding(rawSample)
	}
	decoded := bufio.NewReaderSize(NewReader(raw, enc), sampleSize)
	sample, err := peek(decoded)
	if err != nil {
		return nil, fmt.Errorf("decode sample: %w", err)
	}
	props := SniffCSV(sample, opts)

	cr := newCSVReader(decoded, commaOf(&props))
	var labels []string
	width, lines := 0, 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if labels == nil && props.HasHeader {
			labels = append([]string{}, rec...)
			continue
		}
		if len(rec) > width {
			width = len(rec)
		}
		lines++
	}
	props.NumLines = lines

	var fields []types.Field
	if props.HasHeader {
		fields = HeaderFields(labels)
	} else {
		fields = generatedFields(width)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("csv file has no columns")
	}
	return &Analysis{Encoding: enc, Props: &props, Schema: fields}, nil
}

func analyzeGeoJSON(r io.Reader) (*Analysis, error) {
	names := map[string]string{}
	count := 0
	for row, err := range ReadGeoJSON(r) {
		if err != nil {
			return nil, err
		}
		count++
		for key := range row {
			if key != GeometryKey {
				names[key] = key
			}
		}
	}
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]types.Field, 0, len(keys)+1)
	for _, k := range keys {
		fields = append(fields, types.Field{Key: schema.EscapeKey(k), Type: types.TypeString, OriginalName: k})
	}
	fields = append(fields, geometryField())
	return &Analysis{
		Encoding: EncodingUTF8,
		Props:    &types.FileProps{NumLines: count},
		Schema:   fields,
	}, nil
}
