package datasets

import (
	"time"

	"gorm.io/datatypes"
)

// Extension configures enrichment of a dataset through one remote service action.
type Extension struct {
	RemoteService string   `json:"remoteService"`
	Action        string   `json:"action"`
	Active        bool     `json:"active"`
	Select        []string `json:"select,omitempty"`
	ForceNext     bool     `json:"forceNext,omitempty"`
	Progress      float64  `json:"progress,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Key is the document property that receives the action's outputs.
func (e Extension) Key() string {
	return ExtensionKey(e.RemoteService, e.Action)
}

func ExtensionKey(service, action string) string {
	return "_ext_" + service + "_" + action
}

// SameTarget reports whether both records configure the same service action.
func (e Extension) SameTarget(o Extension) bool {
	return e.RemoteService == o.RemoteService && e.Action == o.Action
}

// ExtensionResult stores the output obtained for one input hash, so rows whose inputs did
// not change are not sent to the remote service again.
type ExtensionResult struct {
	DatasetID    string            `gorm:"column:dataset_id;primaryKey" json:"datasetId"`
	ExtensionKey string            `gorm:"column:extension_key;primaryKey" json:"extensionKey"`
	InputHash    string            `gorm:"column:input_hash;primaryKey" json:"inputHash"`
	Output       datatypes.JSONMap `gorm:"column:output" json:"output"`
	Error        string            `gorm:"column:error;not null;default:''" json:"error,omitempty"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (ExtensionResult) TableName() string { return "extension_results" }

// RemoteService is a catalogued enrichment API.
type RemoteService struct {
	ID           string                      `gorm:"column:id;primaryKey" json:"id" yaml:"id"`
	Title        string                      `gorm:"column:title;not null;default:''" json:"title" yaml:"title"`
	Server       string                      `gorm:"column:server;not null" json:"server" yaml:"server"`
	APIKeyHeader string                      `gorm:"column:api_key_header;not null;default:''" json:"apiKeyHeader,omitempty" yaml:"apiKeyHeader"`
	APIKeyValue  string                      `gorm:"column:api_key_value;not null;default:''" json:"-" yaml:"apiKeyValue"`
	Actions      datatypes.JSONSlice[Action] `gorm:"column:actions" json:"actions" yaml:"actions"`
	UpdatedAt    time.Time                   `gorm:"column:updated_at;not null" json:"updatedAt" yaml:"-"`
}

func (RemoteService) TableName() string { return "remote_services" }

// FindAction returns the action with id.
func (s *RemoteService) FindAction(id string) (Action, bool) {
	for _, a := range s.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

type Action struct {
	ID     string        `json:"id" yaml:"id"`
	Method string        `json:"method" yaml:"method"`
	Path   string        `json:"path" yaml:"path"`
	Input  []ActionParam `json:"input" yaml:"input"`
	Output []ActionParam `json:"output" yaml:"output"`
}

type ActionParam struct {
	Name    string `json:"name" yaml:"name"`
	Concept string `json:"concept,omitempty" yaml:"concept"`
	Type    string `json:"type,omitempty" yaml:"type"`
	Title   string `json:"title,omitempty" yaml:"title"`
}

// IDInput is the input parameter that carries the row identifier, if any.
func (a Action) IDInput() (ActionParam, bool) {
	for _, p := range a.Input {
		if p.Concept == ConceptIdentifier {
			return p, true
		}
	}
	return ActionParam{}, false
}

// IDOutput is the output parameter that echoes the row identifier, if any.
func (a Action) IDOutput() (ActionParam, bool) {
	for _, p := range a.Output {
		if p.Concept == ConceptIdentifier {
			return p, true
		}
	}
	return ActionParam{}, false
}
