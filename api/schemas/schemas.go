package schemas

import "time"

// UntitledLabel is used when a discovered link carries no display text.
const UntitledLabel = "(untitled)"

// PageKind tells the workflow which primary action a target page needs.
type PageKind string

const (
	// PageKindPractice pages carry a hidden progress field and a process submit button.
	PageKindPractice PageKind = "practice"
	// PageKindStudy pages need a dwell, a finish control, and usually a survey.
	PageKindStudy PageKind = "study"
)

// WorkItem is one discovered unit of work. It is immutable once created by a discovery pass.
type WorkItem struct {
	Index        int       `json:"index"`
	TargetURL    string    `json:"target_url"`
	Label        string    `json:"label"`
	Marked       bool      `json:"marked"`
	PageKind     PageKind  `json:"page_kind"`
	Source       string    `json:"source"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Equal compares two items ignoring DiscoveredAt.
func (w WorkItem) Equal(other WorkItem) bool {
	return w.Index == other.Index &&
		w.TargetURL == other.TargetURL &&
		w.Label == other.Label &&
		w.Marked == other.Marked &&
		w.PageKind == other.PageKind &&
		w.Source == other.Source
}

// Phase names a state of the per-item workflow machine.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseNavigating      Phase = "navigating"
	PhaseAwaitingReady   Phase = "awaiting_ready"
	PhaseExtracting      Phase = "extracting"
	PhaseActing          Phase = "acting"
	PhaseAwaitingSettled Phase = "awaiting_settled"
	PhaseDone            Phase = "done"
	PhaseFailed          Phase = "failed"
)

// Terminal reports whether no further transition is possible from p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// StepStatus is the result class of a single transition.
type StepStatus string

const (
	StepSuccess   StepStatus = "success"
	StepRetryable StepStatus = "retryable"
	StepFatal     StepStatus = "fatal"
)

// StepOutcome records one transition. Outcomes are folded into a TaskResult and never persisted on their own.
type StepOutcome struct {
	Phase    Phase         `json:"phase"`
	Status   StepStatus    `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Elapsed  time.Duration `json:"-"`
	Degraded bool          `json:"degraded,omitempty"`
}

// ElapsedMs returns the elapsed time in whole milliseconds.
func (o StepOutcome) ElapsedMs() int64 {
	return o.Elapsed.Milliseconds()
}

// FinalStatus is the terminal status of a WorkItem.
type FinalStatus string

const (
	StatusCompleted        FinalStatus = "completed"
	StatusSubmissionFailed FinalStatus = "submission_failed"
	StatusSkipped          FinalStatus = "skipped"
	StatusAborted          FinalStatus = "aborted"
)

// FailureReason qualifies a non-completed FinalStatus.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonNavigationExhausted FailureReason = "navigation_exhausted"
	ReasonNotReady            FailureReason = "not_ready"
	ReasonSessionLost         FailureReason = "session_lost"
	ReasonCanceled            FailureReason = "canceled"
	ReasonActionNotFound      FailureReason = "action_not_found"
	ReasonAlreadyComplete     FailureReason = "already_complete"
)

// AnswerField records how one survey answer was set.
type AnswerField struct {
	Value    string `json:"value"`
	Strategy string `json:"strategy,omitempty"`
	Set      bool   `json:"set"`
}

// SurveyAnswers holds the two answer fields of a study survey.
type SurveyAnswers struct {
	Difficulty AnswerField `json:"difficulty"`
	Usefulness AnswerField `json:"usefulness"`
}

// Complete is true when both answers were set.
func (s SurveyAnswers) Complete() bool {
	return s.Difficulty.Set && s.Usefulness.Set
}

// TaskResult is the terminal record for one WorkItem. It is created exactly once
// and handed to a sink; nothing in the core holds it afterwards.
type TaskResult struct {
	RunID         string         `json:"run_id"`
	WorkItem      WorkItem       `json:"work_item"`
	FinalStatus   FinalStatus    `json:"final_status"`
	Reason        FailureReason  `json:"reason,omitempty"`
	Attempts      int            `json:"attempts"`
	ProgressCount *int           `json:"progress_count,omitempty"`
	SurveyAnswers *SurveyAnswers `json:"survey_answers,omitempty"`
	Degraded      bool           `json:"degraded"`
	Outcomes      []StepOutcome  `json:"outcomes,omitempty"`
	FinishedAt    time.Time      `json:"finished_at"`
}

// Record is the flat persisted shape of a TaskResult.
type Record struct {
	Timestamp string `json:"timestamp"`
	Index     int    `json:"index"`
	Label     string `json:"label"`
	URL       string `json:"url"`
	Marked    bool   `json:"marked"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts"`
	Degraded  bool   `json:"degraded"`
	RunID     string `json:"run_id,omitempty"`
}

// RecordTimeLayout is the timestamp layout used in persisted records.
const RecordTimeLayout = "2006-01-02 15:04:05"

// Record flattens the result for CSV/JSON/SQL persistence.
func (r TaskResult) Record() Record {
	return Record{
		Timestamp: r.FinishedAt.Format(RecordTimeLayout),
		Index:     r.WorkItem.Index,
		Label:     r.WorkItem.Label,
		URL:       r.WorkItem.TargetURL,
		Marked:    r.WorkItem.Marked,
		Status:    string(r.FinalStatus),
		Reason:    string(r.Reason),
		Attempts:  r.Attempts,
		Degraded:  r.Degraded,
		RunID:     r.RunID,
	}
}
