package services

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/schema"
)

// DecoderFor picks a transaction decoder from a content type. Unknown types are read as
// NDJSON.
func DecoderFor(contentType string, r io.Reader, fields []types.Field) TransactionDecoder {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "application/json":
		return NewJSONArrayDecoder(r)
	case "text/csv":
		return NewCSVDecoder(r, fields)
	default:
		return NewNDJSONDecoder(r)
	}
}

type ndjsonDecoder struct {
	dec *json.Decoder
}

func NewNDJSONDecoder(r io.Reader) TransactionDecoder {
	return &ndjsonDecoder{dec: json.NewDecoder(r)}
}

func (d *ndjsonDecoder) Next() (map[string]any, error) {
	var raw map[string]any
	if err := d.dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("bad transaction: %w", err)
	}
	return raw, nil
}

type jsonArrayDecoder struct {
	dec     *json.Decoder
	started bool
}

// NewJSONArrayDecoder reads a single JSON array of transactions.
func NewJSONArrayDecoder(r io.Reader) TransactionDecoder {
	return &jsonArrayDecoder{dec: json.NewDecoder(r)}
}

func (d *jsonArrayDecoder) Next() (map[string]any, error) {
	if !d.started {
		tok, err := d.dec.Token()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("bad transactions body: %w", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return nil, fmt.Errorf("bad transactions body: expected an array")
		}
		d.started = true
	}
	if !d.dec.More() {
		return nil, io.EOF
	}
	var raw map[string]any
	if err := d.dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("bad transaction: %w", err)
	}
	return raw, nil
}

type csvDecoder struct {
	r      *csv.Reader
	fields map[string]types.Field
	header []string
}

// NewCSVDecoder reads transactions from a csv with a header line. Cells are typed with the
// dataset schema and empty cells are left out.
func NewCSVDecoder(r io.Reader, fields []types.Field) TransactionDecoder {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	byKey := make(map[string]types.Field, len(fields))
	for _, f := range fields {
		byKey[f.Key] = f
	}
	return &csvDecoder{r: cr, fields: byKey}
}

func (d *csvDecoder) Next() (map[string]any, error) {
	if d.header == nil {
		header, err := d.r.Read()
		if err != nil {
			return nil, err
		}
		for i, h := range header {
			header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}
		d.header = header
	}
	record, err := d.r.Read()
	if err != nil {
		return nil, err
	}
	raw := make(map[string]any, len(record))
	for i, cell := range record {
		if i >= len(d.header) || cell == "" {
			continue
		}
		key := d.header[i]
		f, ok := d.fields[key]
		if !ok {
			raw[key] = cell
			continue
		}
		f.Separator = ""
		v := schema.Format(cell, f)
		if n, ok := v.(int64); ok {
			v = float64(n)
		}
		raw[key] = v
	}
	return raw, nil
}
