package schema

import (
	"github.com/yungbote/dataset-engine/internal/domain/datasets"
)

// Strip removes calculated fields, which are regenerated on every schema computation.
func Strip(fields []datasets.Field) []datasets.Field {
	out := make([]datasets.Field, 0, len(fields))
	for _, f := range fields {
		if f.Calculated || f.Extension != "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Merge combines freshly sniffed fields with the current schema. User annotations on
// known keys are kept, concept types win over sniffed types, and fields that disappeared
// from the source are dropped.
func Merge(sniffed, current []datasets.Field) []datasets.Field {
	out := make([]datasets.Field, 0, len(sniffed))
	for _, f := range sniffed {
		merged := f
		if prev, ok := datasets.FindField(current, f.Key); ok && !prev.Calculated {
			merged.Title = prev.Title
			merged.Description = prev.Description
			merged.RefersTo = prev.RefersTo
			merged.Separator = prev.Separator
			merged.IgnoreDetection = prev.IgnoreDetection
			if prev.OriginalName != "" {
				merged.OriginalName = prev.OriginalName
			}
		}
		out = append(out, ApplyConcept(merged))
	}
	return out
}

// ApplyConcept forces the type implied by the field concept.
func ApplyConcept(f datasets.Field) datasets.Field {
	if f.IgnoreDetection {
		f.Type = datasets.TypeString
		f.Format = ""
	}
	if f.RefersTo == "" {
		return f
	}
	if typ, format, ok := datasets.ConceptType(f.RefersTo); ok {
		f.Type = typ
		f.Format = format
	}
	return f
}

// WithExtensions appends the output fields of every active extension. fields should not
// contain extension fields already.
func WithExtensions(fields []datasets.Field, exts []datasets.Extension, services map[string]*datasets.RemoteService) []datasets.Field {
	out := append([]datasets.Field(nil), fields...)
	for _, ext := range exts {
		if !ext.Active {
			continue
		}
		svc, ok := services[ext.RemoteService]
		if !ok {
			continue
		}
		action, ok := svc.FindAction(ext.Action)
		if !ok {
			continue
		}
		for _, param := range SelectedOutputs(action, ext.Select) {
			typ := param.Type
			if typ == "" {
				typ = datasets.TypeString
			}
			out = append(out, datasets.Field{
				Key:       ext.Key() + "." + param.Name,
				Type:      typ,
				Title:     param.Title,
				RefersTo:  param.Concept,
				Extension: ext.RemoteService + "/" + ext.Action,
			})
		}
	}
	return out
}

// SelectedOutputs filters the action outputs to the selection. The identifier output is
// never stored and an empty selection keeps everything else.
func SelectedOutputs(action datasets.Action, selection []string) []datasets.ActionParam {
	keep := map[string]bool{}
	for _, s := range selection {
		keep[s] = true
	}
	out := []datasets.ActionParam{}
	for _, p := range action.Output {
		if p.Concept == datasets.ConceptIdentifier || p.Name == "error" {
			continue
		}
		if len(keep) > 0 && !keep[p.Name] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Options tune Extended for the dataset row source.
type Options struct {
	IsRest bool
}

// Extended appends the calculated fields derived from the base fields.
func Extended(fields []datasets.Field, opts Options) []datasets.Field {
	out := make([]datasets.Field, 0, len(fields)+8)
	for _, f := range fields {
		if !f.Calculated {
			out = append(out, f)
		}
	}
	calc := func(key, typ, format, title, concept string) {
		out = append(out, datasets.Field{Key: key, Type: typ, Format: format, Title: title, RefersTo: concept, Calculated: true})
	}
	if _, ok := datasets.FindConcept(fields, datasets.ConceptDocument); ok {
		calc(datasets.KeyFileContent, datasets.TypeString, "", "Attachment content", "")
		calc(datasets.KeyFileType, datasets.TypeString, "", "Attachment type", "")
		calc(datasets.KeyFileLength, datasets.TypeInteger, "", "Attachment size", "")
		calc(datasets.KeyAttachment, datasets.TypeString, datasets.FormatURIReference, "Attachment URL", "")
	}
	if HasGeo(fields) {
		calc(datasets.KeyGeoPoint, datasets.TypeString, "", "Geo point", datasets.ConceptLatLon)
		calc(datasets.KeyGeoShape, datasets.TypeObject, "", "Geometry", datasets.ConceptGeometry)
		calc(datasets.KeyGeoCorners, datasets.TypeString, "", "Geo corners", "")
	}
	if opts.IsRest {
		calc(datasets.KeyUpdatedAt, datasets.TypeString, datasets.FormatDateTime, "Updated at", "")
	}
	calc(datasets.KeyID, datasets.TypeString, "", "Identifier", "")
	calc(datasets.KeyI, datasets.TypeInteger, "", "Line number", "")
	calc(datasets.KeyRand, datasets.TypeInteger, "", "Random number", "")
	return out
}

// HasGeo reports whether the fields carry enough concepts to derive geo fields.
func HasGeo(fields []datasets.Field) bool {
	_, lat := datasets.FindConcept(fields, datasets.ConceptLatitude)
	_, lon := datasets.FindConcept(fields, datasets.ConceptLongitude)
	_, latlon := datasets.FindConcept(fields, datasets.ConceptLatLon)
	_, geom := datasets.FindConcept(fields, datasets.ConceptGeometry)
	return (lat && lon) || latlon || geom
}

// Common returns the fields present with the same type in every schema, in the order of
// the first one. Used for virtual datasets.
func Common(schemas [][]datasets.Field) []datasets.Field {
	if len(schemas) == 0 {
		return nil
	}
	out := []datasets.Field{}
	for _, f := range Strip(schemas[0]) {
		shared := true
		for _, other := range schemas[1:] {
			o, ok := datasets.FindField(other, f.Key)
			if !ok || o.Type != f.Type || o.Calculated {
				shared = false
				break
			}
		}
		if shared {
			out = append(out, f)
		}
	}
	return out
}
