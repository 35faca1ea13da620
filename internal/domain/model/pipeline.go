package model

import "time"

type Stage string

const (
	StageUploading Stage = "UPLOADING"
	StageParsing   Stage = "PARSING"
	StageChunking  Stage = "CHUNKING"
	StageEmbedding Stage = "EMBEDDING"
	StageStoring   Stage = "STORING"
	StageCompleted Stage = "COMPLETED"
	StageFailed    Stage = "FAILED"
)

var stageOrder = map[Stage]int{
	StageUploading: 0,
	StageParsing:   1,
	StageChunking:  2,
	StageEmbedding: 3,
	StageStoring:   4,
	StageCompleted: 5,
}

var stageProgress = map[Stage]int{
	StageUploading: 0,
	StageParsing:   10,
	StageChunking:  30,
	StageEmbedding: 50,
	StageStoring:   80,
	StageCompleted: 100,
}

func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok || s == StageFailed
}

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Before reports whether s comes strictly before other in the forward order.
// FAILED is not ordered relative to the other stages.
func (s Stage) Before(other Stage) bool {
	a, okA := stageOrder[s]
	b, okB := stageOrder[other]
	return okA && okB && a < b
}

// Progress is the nominal completion percentage when the stage is entered.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// StageFailure is the failure context kept so a retry only redoes what is left.
type StageFailure struct {
	Stage      Stage     `json:"stage"`
	Error      string    `json:"error"`
	Succeeded  []int     `json:"succeeded"`
	Total      int       `json:"total"`
	RecordedAt time.Time `json:"recorded_at"`
}

type PipelineStatus struct {
	DocumentID         string
	JobID              string
	CurrentStage       Stage
	StageTimes         map[Stage]time.Time
	StartedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
	ProgressPercentage int
	ErrorCount         int
	LastError          string
	Failure            *StageFailure
}

// Clone returns a deep copy safe to hand out of the tracker.
func (p *PipelineStatus) Clone() *PipelineStatus {
	if p == nil {
		return nil
	}
	cp := *p
	cp.StageTimes = make(map[Stage]time.Time, len(p.StageTimes))
	for k, v := range p.StageTimes {
		cp.StageTimes[k] = v
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	if p.Failure != nil {
		f := *p.Failure
		f.Succeeded = append([]int(nil), p.Failure.Succeeded...)
		cp.Failure = &f
	}
	return &cp
}

// PipelineEvent is published on every stage transition and on terminal outcomes.
type PipelineEvent struct {
	DocumentID string    `json:"document_id"`
	Tenant     string    `json:"tenant"`
	JobID      string    `json:"job_id"`
	Stage      Stage     `json:"stage"`
	Error      string    `json:"error,omitempty"`
	Chunks     int       `json:"chunks,omitempty"`
	At         time.Time `json:"at"`
}
