package dbio

import "fmt"

// RecordState names a stop in the publication lifecycle.
type RecordState string

// Publication lifecycle states. EDIT is the state a record is created in;
// PUBLISHED and KILLED are terminal.
const (
	StateEdit       RecordState = "edit"
	StateProcessing RecordState = "processing"
	StateSubmitted  RecordState = "submitted"
	StateAccepted   RecordState = "accepted"
	StatePublished  RecordState = "published"
	StateKilled     RecordState = "killed"
)

var knownStates = map[RecordState]bool{
	StateEdit:       true,
	StateProcessing: true,
	StateSubmitted:  true,
	StateAccepted:   true,
	StatePublished:  true,
	StateKilled:     true,
}

// ReviewPhase values used in external review sub-records.
const (
	ReviewPhasePending  = "pending"
	ReviewPhaseApproved = "approved"
	ReviewPhaseRejected = "rejected"
)

// ReviewRecord captures the progress of one external review system on a
// record. Extra carries review-system specific key/values merged in through
// PubReview.
type ReviewRecord struct {
	Phase    string         `json:"phase"`
	InfoURL  string         `json:"info_url,omitempty"`
	Feedback []string       `json:"feedback,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// RecordStatus is the lifecycle snapshot attached to project records. Since
// marks when the current state was entered; Modified marks the last
// annotation via Act and deliberately lags Since immediately after a bare
// state change.
type RecordStatus struct {
	State          RecordState             `json:"state"`
	Action         string                  `json:"action"`
	Message        string                  `json:"message"`
	Since          float64                 `json:"since"`
	Modified       float64                 `json:"modified"`
	Created        float64                 `json:"created"`
	Submitted      float64                 `json:"submitted,omitempty"`
	Published      float64                 `json:"published,omitempty"`
	PublishedAs    string                  `json:"published_as,omitempty"`
	LastVersion    string                  `json:"last_version,omitempty"`
	ArchivedAt     string                  `json:"archived_at,omitempty"`
	ExternalReview map[string]ReviewRecord `json:"external_review,omitempty"`
}

// NewRecordStatus returns a status in the EDIT state created at the given
// epoch time (0 means now).
func NewRecordStatus(when float64) *RecordStatus {
	if when <= 0 {
		when = Now()
	}
	return &RecordStatus{
		State:    StateEdit,
		Action:   ActionCreate,
		Created:  when,
		Since:    when,
		Modified: when,
	}
}

// Clone returns a deep copy.
func (s *RecordStatus) Clone() *RecordStatus {
	if s == nil {
		return nil
	}
	cp := *s
	if s.ExternalReview != nil {
		cp.ExternalReview = make(map[string]ReviewRecord, len(s.ExternalReview))
		for name, rev := range s.ExternalReview {
			rcp := rev
			rcp.Feedback = append([]string(nil), rev.Feedback...)
			rcp.Extra = cloneDoc(rev.Extra)
			cp.ExternalReview[name] = rcp
		}
	}
	return &cp
}

// Act records the latest action verb and message without changing the state.
// It refreshes Modified; Since is untouched, so an Act after a state change
// annotates the current state rather than restarting its clock.
func (s *RecordStatus) Act(action, message string, when float64) {
	if when <= 0 {
		when = Now()
	}
	s.Action = action
	s.Message = message
	s.Modified = when
}

// SetState moves the status to a new state, refreshing Since and leaving
// Modified stale: immediately after a bare state change, Modified < Since
// until the next Act.
func (s *RecordStatus) SetState(state RecordState, when float64) error {
	if !knownStates[state] {
		return StateError{State: string(state), Message: "unrecognized record state"}
	}
	if when <= 0 {
		when = Now()
	}
	s.State = state
	s.Since = when
	return nil
}

// Publish performs the terminal transition to PUBLISHED: it stamps the
// external identifier and version, backfills Submitted when it was never set,
// and clears any external-review progress.
func (s *RecordStatus) Publish(publishedAs, version, archivedAt string, when float64) error {
	if publishedAs == "" {
		return StateError{State: string(StatePublished), Message: "publish requires a public identifier"}
	}
	if when <= 0 {
		when = Now()
	}
	if err := s.SetState(StatePublished, when); err != nil {
		return err
	}
	s.PublishedAs = publishedAs
	s.LastVersion = version
	if archivedAt != "" {
		s.ArchivedAt = archivedAt
	}
	if s.Submitted <= 0 {
		s.Submitted = when
	}
	s.Published = when
	s.ExternalReview = nil
	return nil
}

// PubReview upserts the named review system's sub-record. When fbreplace is
// false the feedback entries are appended to any existing ones; otherwise
// they replace them. Extra key/values are merged into the sub-record.
func (s *RecordStatus) PubReview(system, phase string, feedback []string, fbreplace bool, extra map[string]any) error {
	if system == "" {
		return StateError{State: string(s.State), Message: "pubreview requires a review system name"}
	}
	if s.ExternalReview == nil {
		s.ExternalReview = map[string]ReviewRecord{}
	}
	rev := s.ExternalReview[system]
	rev.Phase = phase
	if fbreplace {
		rev.Feedback = append([]string(nil), feedback...)
	} else {
		rev.Feedback = append(rev.Feedback, feedback...)
	}
	for k, v := range extra {
		if k == "info_url" {
			if url, ok := v.(string); ok {
				rev.InfoURL = url
				continue
			}
		}
		if rev.Extra == nil {
			rev.Extra = map[string]any{}
		}
		rev.Extra[k] = v
	}
	s.ExternalReview[system] = rev
	return nil
}

// Submitable reports whether the record identified by id may advance past
// SUBMITTED: every external review must have reached a terminal phase. A
// pending review yields a NotSubmitableError.
func (s *RecordStatus) Submitable(id string) error {
	for system, rev := range s.ExternalReview {
		if rev.Phase == "" || rev.Phase == ReviewPhasePending {
			return NotSubmitableError{ID: id, Reason: "review " + system + " is still pending"}
		}
	}
	return nil
}

// ReviewClear drops the named review system's sub-record; an empty name
// drops them all.
func (s *RecordStatus) ReviewClear(system string) {
	if system == "" {
		s.ExternalReview = nil
		return
	}
	delete(s.ExternalReview, system)
}

func (s *RecordStatus) String() string {
	return fmt.Sprintf("%s (%s)", s.State, s.Action)
}
