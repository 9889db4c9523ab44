package scheduler

import (
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/executor"
	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/plan"
)

// Status is a job's lifecycle state. Transitions are monotonic: a job
// never re-enters queued after running, and terminal states are final.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

var statusRank = map[Status]int{
	StatusQueued:    0,
	StatusRunning:   1,
	StatusSuccess:   2,
	StatusError:     2,
	StatusCancelled: 2,
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool { return statusRank[s] == 2 }

// Job is one scheduled unit of execution: a plan bound to a document.
// Fields are guarded by the scheduler's mutex; external readers get a
// JobView snapshot.
type Job struct {
	ID       string
	DocKey   host.DocKey
	HostKind host.Kind
	Plan     plan.Plan
	SourceID string
	Policy   executor.Policy

	Status    Status
	Detail    string
	ErrorKind apperr.Kind
	Results   []executor.ActionResult

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	seq uint64
}

// JobView is the immutable status snapshot handed to observers.
type JobView struct {
	JobID     string                  `json:"job_id"`
	DocKey    host.DocKey             `json:"doc_key"`
	HostKind  host.Kind               `json:"host_kind"`
	SourceID  string                  `json:"source_id,omitempty"`
	Status    Status                  `json:"status"`
	Error     string                  `json:"error,omitempty"`
	ErrorKind apperr.Kind             `json:"error_kind,omitempty"`
	Results   []executor.ActionResult `json:"results,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

func (j *Job) view() JobView {
	v := JobView{
		JobID:     j.ID,
		DocKey:    j.DocKey,
		HostKind:  j.HostKind,
		SourceID:  j.SourceID,
		Status:    j.Status,
		CreatedAt: j.CreatedAt,
	}
	if j.Status == StatusError || j.Status == StatusCancelled {
		v.Error = j.Detail
		v.ErrorKind = j.ErrorKind
	}
	if len(j.Results) > 0 {
		v.Results = append([]executor.ActionResult(nil), j.Results...)
	}
	return v
}
