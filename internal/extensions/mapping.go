// Package extensions prepares row inputs for remote enrichment actions and interprets their
// outputs.
package extensions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/schema"
)

type binding struct {
	field string
	input string
}

// Mapper turns documents into action inputs.
type Mapper struct {
	Key      string
	Action   datasets.Action
	idInput  string
	idOutput string
	bindings []binding
	outputs  map[string]bool
}

// NewMapper binds every action input to the schema field that refers to the same concept.
// Fields produced by the extension itself never feed it.
func NewMapper(ext datasets.Extension, action datasets.Action, fields []datasets.Field) (*Mapper, error) {
	idIn, ok := action.IDInput()
	if !ok {
		return nil, fmt.Errorf("action %s has no identifier input", action.ID)
	}
	idOut, ok := action.IDOutput()
	if !ok {
		return nil, fmt.Errorf("action %s has no identifier output", action.ID)
	}
	m := &Mapper{Key: ext.Key(), Action: action, idInput: idIn.Name, idOutput: idOut.Name, outputs: map[string]bool{}}
	for _, in := range action.Input {
		if in.Concept == "" || in.Concept == datasets.ConceptIdentifier {
			continue
		}
		for _, f := range fields {
			if f.RefersTo == in.Concept && !strings.HasPrefix(f.Key, m.Key) {
				m.bindings = append(m.bindings, binding{field: f.Key, input: in.Name})
				break
			}
		}
	}
	if len(m.bindings) == 0 {
		return nil, fmt.Errorf("no field of the schema matches the inputs of %s", action.ID)
	}
	for _, p := range schema.SelectedOutputs(action, ext.Select) {
		m.outputs[p.Name] = true
	}
	return m, nil
}

// Input maps a document to the action input (without the row identifier) and its hash.
func (m *Mapper) Input(doc map[string]any) (map[string]any, string, error) {
	in := make(map[string]any, len(m.bindings)+1)
	for _, b := range m.bindings {
		in[b.input] = lookup(doc, b.field)
	}
	h, err := Hash(in)
	if err != nil {
		return nil, "", err
	}
	return in, h, nil
}

// Request adds the row identifier to an input.
func (m *Mapper) Request(id string, input map[string]any) map[string]any {
	out := make(map[string]any, len(input)+1)
	for k, v := range input {
		out[k] = v
	}
	out[m.idInput] = id
	return out
}

// Output extracts the row identifier and the selected outputs from one response line.
func (m *Mapper) Output(line map[string]any) (string, map[string]any, string) {
	id := fmt.Sprint(line[m.idOutput])
	if line[m.idOutput] == nil {
		id = ""
	}
	out := map[string]any{}
	for k, v := range line {
		if m.outputs[k] {
			out[k] = v
		}
	}
	var errMsg string
	if e, ok := line["error"].(string); ok {
		errMsg = e
	}
	return id, out, errMsg
}

// Hash is stable for equal inputs whatever the key order.
func Hash(input map[string]any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("hash extension input: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(raw), 16), nil
}

func lookup(doc map[string]any, key string) any {
	if v, ok := doc[key]; ok {
		return v
	}
	var cur any = doc
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// Selected filters a stored output down to the current selection.
func (m *Mapper) Selected(output map[string]any) map[string]any {
	out := make(map[string]any, len(output))
	for k, v := range output {
		if m.outputs[k] {
			out[k] = v
		}
	}
	return out
}

// Binding is an active extension resolved against the service catalogue and a schema.
type Binding struct {
	Extension datasets.Extension
	Service   *datasets.RemoteService
	Mapper    *Mapper
}

// Bind resolves the active extensions. Extensions that cannot be resolved are reported in
// failed, keyed by extension key.
func Bind(exts []datasets.Extension, fields []datasets.Field, services map[string]*datasets.RemoteService) ([]Binding, map[string]error) {
	var out []Binding
	failed := map[string]error{}
	for _, ext := range exts {
		if !ext.Active {
			continue
		}
		svc, ok := services[ext.RemoteService]
		if !ok {
			failed[ext.Key()] = fmt.Errorf("unknown remote service %s", ext.RemoteService)
			continue
		}
		action, ok := svc.FindAction(ext.Action)
		if !ok {
			failed[ext.Key()] = fmt.Errorf("unknown action %s of %s", ext.Action, ext.RemoteService)
			continue
		}
		m, err := NewMapper(ext, action, fields)
		if err != nil {
			failed[ext.Key()] = err
			continue
		}
		out = append(out, Binding{Extension: ext, Service: svc, Mapper: m})
	}
	return out, failed
}
