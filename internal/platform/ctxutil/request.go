// Package ctxutil carries request-scoped identifiers through context so HTTP requests, stage
// runs and outgoing remote calls log and propagate the same ids.
package ctxutil

import "context"

type requestDataKey struct{}

// RequestData is attached once per API request or stage run. Later layers fill in what they
// learn (the owner from headers, the dataset from the route) on the same pointer.
type RequestData struct {
	TraceID   string
	RequestID string
	OwnerType string
	OwnerID   string
	DatasetID string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

// Ensure returns the request data already on ctx, attaching an empty one when missing.
func Ensure(ctx context.Context) (context.Context, *RequestData) {
	if rd := GetRequestData(ctx); rd != nil {
		return ctx, rd
	}
	rd := &RequestData{}
	return WithRequestData(ctx, rd), rd
}

func (rd *RequestData) HasOwner() bool {
	return rd != nil && rd.OwnerType != "" && rd.OwnerID != ""
}

// LogFields returns the non-empty ids as logger key/value pairs.
func (rd *RequestData) LogFields() []interface{} {
	if rd == nil {
		return nil
	}
	var out []interface{}
	add := func(k, v string) {
		if v != "" {
			out = append(out, k, v)
		}
	}
	add("trace_id", rd.TraceID)
	add("request_id", rd.RequestID)
	if rd.HasOwner() {
		out = append(out, "owner_id", rd.OwnerType+":"+rd.OwnerID)
	}
	add("dataset_id", rd.DatasetID)
	return out
}
