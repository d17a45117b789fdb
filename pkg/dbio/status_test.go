package dbio

import (
	"testing"
)

func TestNewRecordStatusStartsInEdit(t *testing.T) {
	s := NewRecordStatus(100)
	if s.State != StateEdit {
		t.Fatalf("expected edit, got %s", s.State)
	}
	if s.Since != 100 || s.Modified != 100 || s.Created != 100 {
		t.Fatalf("timestamps not seeded: %+v", s)
	}
}

func TestSetStateRefreshesSinceOnly(t *testing.T) {
	s := NewRecordStatus(100)
	if err := s.SetState(StateSubmitted, 200); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if s.State != StateSubmitted {
		t.Fatalf("expected submitted, got %s", s.State)
	}
	if s.Since != 200 {
		t.Fatalf("since not refreshed: %f", s.Since)
	}
	// a bare state change leaves the annotation clock behind
	if !(s.Modified < s.Since) {
		t.Fatalf("expected modified (%f) < since (%f)", s.Modified, s.Since)
	}
}

func TestSetStateRejectsUnknownState(t *testing.T) {
	s := NewRecordStatus(0)
	err := s.SetState(RecordState("limbo"), 0)
	if err == nil {
		t.Fatalf("expected error for unknown state")
	}
	if _, ok := err.(StateError); !ok {
		t.Fatalf("expected StateError, got %T", err)
	}
}

func TestActRefreshesModifiedOnly(t *testing.T) {
	s := NewRecordStatus(100)
	if err := s.SetState(StateProcessing, 200); err != nil {
		t.Fatalf("set state: %v", err)
	}
	s.Act(ActionComment, "looks good", 300)
	if s.Action != ActionComment || s.Message != "looks good" {
		t.Fatalf("annotation not recorded: %+v", s)
	}
	if s.Modified != 300 {
		t.Fatalf("modified not refreshed: %f", s.Modified)
	}
	if s.Since != 200 {
		t.Fatalf("act must not restart the state clock: %f", s.Since)
	}
}

func TestPublishStampsAndClearsReview(t *testing.T) {
	s := NewRecordStatus(100)
	if err := s.PubReview("crossref", ReviewPhasePending, []string{"awaiting doi"}, false, nil); err != nil {
		t.Fatalf("pubreview: %v", err)
	}
	if err := s.Publish("doi:10.1000/xyz", "1.0", "https://archive.example/xyz", 500); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if s.State != StatePublished {
		t.Fatalf("expected published, got %s", s.State)
	}
	if s.PublishedAs != "doi:10.1000/xyz" || s.LastVersion != "1.0" || s.ArchivedAt != "https://archive.example/xyz" {
		t.Fatalf("publication fields not stamped: %+v", s)
	}
	if s.Submitted != 500 {
		t.Fatalf("submitted not backfilled: %f", s.Submitted)
	}
	if s.ExternalReview != nil {
		t.Fatalf("publish must clear external review progress")
	}
}

func TestPublishKeepsEarlierSubmitted(t *testing.T) {
	s := NewRecordStatus(100)
	s.Submitted = 250
	if err := s.Publish("doi:10.1000/abc", "2", "", 500); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if s.Submitted != 250 {
		t.Fatalf("existing submitted time overwritten: %f", s.Submitted)
	}
}

func TestPublishRequiresIdentifier(t *testing.T) {
	s := NewRecordStatus(0)
	if err := s.Publish("", "1", "", 0); err == nil {
		t.Fatalf("expected error for empty public identifier")
	}
}

func TestPubReviewFeedbackAppendAndReplace(t *testing.T) {
	s := NewRecordStatus(0)
	if err := s.PubReview("datacite", ReviewPhasePending, []string{"a"}, false, nil); err != nil {
		t.Fatalf("pubreview: %v", err)
	}
	if err := s.PubReview("datacite", ReviewPhasePending, []string{"b"}, false, nil); err != nil {
		t.Fatalf("pubreview append: %v", err)
	}
	rev := s.ExternalReview["datacite"]
	if len(rev.Feedback) != 2 {
		t.Fatalf("expected appended feedback, got %v", rev.Feedback)
	}
	if err := s.PubReview("datacite", ReviewPhaseRejected, []string{"c"}, true, nil); err != nil {
		t.Fatalf("pubreview replace: %v", err)
	}
	rev = s.ExternalReview["datacite"]
	if len(rev.Feedback) != 1 || rev.Feedback[0] != "c" {
		t.Fatalf("expected replaced feedback, got %v", rev.Feedback)
	}
	if rev.Phase != ReviewPhaseRejected {
		t.Fatalf("phase not updated: %s", rev.Phase)
	}
}

func TestPubReviewLiftsInfoURLWithoutMutatingExtra(t *testing.T) {
	s := NewRecordStatus(0)
	extra := map[string]any{"info_url": "https://review.example/42", "ticket": "42"}
	if err := s.PubReview("crossref", ReviewPhasePending, nil, false, extra); err != nil {
		t.Fatalf("pubreview: %v", err)
	}
	rev := s.ExternalReview["crossref"]
	if rev.InfoURL != "https://review.example/42" {
		t.Fatalf("info_url not lifted: %+v", rev)
	}
	if _, present := rev.Extra["info_url"]; present {
		t.Fatalf("info_url should not land in extra")
	}
	if rev.Extra["ticket"] != "42" {
		t.Fatalf("extra fields not merged: %+v", rev.Extra)
	}
	if _, present := extra["info_url"]; !present {
		t.Fatalf("caller's extra map was mutated")
	}
}

func TestPubReviewRequiresSystemName(t *testing.T) {
	s := NewRecordStatus(0)
	if err := s.PubReview("", ReviewPhasePending, nil, false, nil); err == nil {
		t.Fatalf("expected error for empty review system")
	}
}

func TestSubmitable(t *testing.T) {
	s := NewRecordStatus(0)
	if err := s.Submitable("pdr0:0001"); err != nil {
		t.Fatalf("no reviews means submitable: %v", err)
	}
	_ = s.PubReview("crossref", ReviewPhasePending, nil, false, nil)
	err := s.Submitable("pdr0:0001")
	if err == nil {
		t.Fatalf("pending review must block submission")
	}
	if _, ok := err.(NotSubmitableError); !ok {
		t.Fatalf("expected NotSubmitableError, got %T", err)
	}
	_ = s.PubReview("crossref", ReviewPhaseApproved, nil, true, nil)
	if err := s.Submitable("pdr0:0001"); err != nil {
		t.Fatalf("approved review should unblock: %v", err)
	}
}

func TestReviewClear(t *testing.T) {
	s := NewRecordStatus(0)
	_ = s.PubReview("a", ReviewPhasePending, nil, false, nil)
	_ = s.PubReview("b", ReviewPhasePending, nil, false, nil)
	s.ReviewClear("a")
	if _, present := s.ExternalReview["a"]; present {
		t.Fatalf("named review not cleared")
	}
	if _, present := s.ExternalReview["b"]; !present {
		t.Fatalf("unrelated review dropped")
	}
	s.ReviewClear("")
	if s.ExternalReview != nil {
		t.Fatalf("empty name must clear all reviews")
	}
}
