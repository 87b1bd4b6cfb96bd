package datasets

// Status is a dataset lifecycle position. Stable statuses wait for a stage to claim them,
// working statuses are held by exactly one stage run.
type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusLoaded      Status = "loaded"
	StatusAnalyzed    Status = "analyzed"
	StatusSchematized Status = "schematized"
	StatusIndexed     Status = "indexed"
	StatusExtended    Status = "extended"
	StatusFinalized   Status = "finalized"
	StatusUpdated     Status = "updated"
	StatusError       Status = "error"

	StatusConverting   Status = "converting"
	StatusAnalyzing    Status = "analyzing"
	StatusSchematizing Status = "schematizing"
	StatusIndexing     Status = "indexing"
	StatusExtending    Status = "extending"
	StatusFinalizing   Status = "finalizing"
)

var workingStatuses = []Status{
	StatusConverting,
	StatusAnalyzing,
	StatusSchematizing,
	StatusIndexing,
	StatusExtending,
	StatusFinalizing,
}

// WorkingStatuses lists every status that means a stage currently holds the dataset.
func WorkingStatuses() []Status {
	out := make([]Status, len(workingStatuses))
	copy(out, workingStatuses)
	return out
}

func (s Status) Working() bool {
	for _, w := range workingStatuses {
		if s == w {
			return true
		}
	}
	return false
}

// Readable reports whether row data may be served. An updated REST dataset stays readable
// because its alias still points at a complete index.
func (s Status) Readable() bool {
	return s == StatusFinalized || s == StatusUpdated || s == StatusError
}

// Stable reports whether client metadata changes that rewind the pipeline are accepted.
func (s Status) Stable() bool {
	return s == StatusFinalized || s == StatusUpdated || s == StatusError
}

func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusLoaded, StatusAnalyzed, StatusSchematized, StatusIndexed,
		StatusExtended, StatusFinalized, StatusUpdated, StatusError:
		return true
	}
	return s.Working()
}

// pipelineOrder ranks stable statuses along the happy path.
var pipelineOrder = map[Status]int{
	StatusUploaded:    0,
	StatusLoaded:      1,
	StatusAnalyzed:    2,
	StatusSchematized: 3,
	StatusIndexed:     4,
	StatusExtended:    5,
	StatusFinalized:   6,
	StatusUpdated:     6,
}

// Earliest returns whichever of a and b comes first in the pipeline.
func Earliest(a, b Status) Status {
	ra, okA := pipelineOrder[a]
	rb, okB := pipelineOrder[b]
	switch {
	case !okA:
		return b
	case !okB:
		return a
	case rb < ra:
		return b
	default:
		return a
	}
}
