package models

// JobStatus represents the lifecycle state of a generation job
type JobStatus string

const (
	JobStatusStarting   JobStatus = "starting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// IsTerminal reports whether no further status change is expected
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// GenerationJob is one attempt's in-flight unit of work
type GenerationJob struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Outputs     []string  `json:"outputs,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// FirstOutput returns the first output URL, if any
func (j *GenerationJob) FirstOutput() (string, bool) {
	if j == nil {
		return "", false
	}
	for _, out := range j.Outputs {
		if out != "" {
			return out, true
		}
	}
	return "", false
}
