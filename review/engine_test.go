package review

import (
	"testing"
	"time"

	"github.com/arctek/reviewsrv/reviewerr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(NewStore(t.TempDir()), NewBus())
}

func TestCreate(t *testing.T) {
	e := newTestEngine(t)

	r, err := e.Create("# Plan\nStep one.", "/srv/project")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Status != StatusOpen {
		t.Errorf("status = %s, want %s", r.Status, StatusOpen)
	}
	if len(r.DocumentVersions) != 1 {
		t.Fatalf("versions = %d, want 1", len(r.DocumentVersions))
	}
	if r.CurrentVersion != Digest("# Plan\nStep one.") {
		t.Errorf("current version does not match digest of the plan content")
	}
}

func TestRequestChangesRequiresUnresolvedComment(t *testing.T) {
	e := newTestEngine(t)
	r, _ := e.Create("plan", "")

	if _, err := e.RequestChanges(r.ID, ""); err == nil {
		t.Fatal("expected error requesting changes with no comments")
	} else if kind, _ := reviewerr.KindOf(err); kind != reviewerr.KindValidationError {
		t.Errorf("kind = %v, want ValidationError", kind)
	}

	if _, _, err := e.AddComment(r.ID, "", "plan", "needs work", TextPosition{StartOffset: 0, EndOffset: 4}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}

	r, err := e.RequestChanges(r.ID, "")
	if err != nil {
		t.Fatalf("RequestChanges: %v", err)
	}
	if r.Status != StatusChangesRequested {
		t.Errorf("status = %s, want %s", r.Status, StatusChangesRequested)
	}
}

func TestAskQuestionsAcceptedStaysInChangesRequested(t *testing.T) {
	e := newTestEngine(t)
	r, _ := e.Create("plan", "")
	_, comment, _ := e.AddComment(r.ID, "", "plan", "typo", TextPosition{StartOffset: 0, EndOffset: 4})
	r, _ = e.RequestChanges(r.ID, "")

	r, err := e.AskQuestions(r.ID, "", []QuestionInput{
		{CommentID: comment.ID, Type: QuestionAccepted, Message: "ok"},
	})
	if err != nil {
		t.Fatalf("AskQuestions: %v", err)
	}
	if r.Status != StatusChangesRequested {
		t.Errorf("status = %s, want %s (nothing left to discuss)", r.Status, StatusChangesRequested)
	}
	if len(r.UnresolvedComments()) != 0 {
		t.Errorf("expected the accepted comment to be resolved")
	}
}

func TestAskQuestionsNonAcceptedEntersDiscussing(t *testing.T) {
	e := newTestEngine(t)
	r, _ := e.Create("plan", "")
	_, comment, _ := e.AddComment(r.ID, "", "plan", "why?", TextPosition{StartOffset: 0, EndOffset: 4})
	r, _ = e.RequestChanges(r.ID, "")

	r, err := e.AskQuestions(r.ID, "", []QuestionInput{
		{CommentID: comment.ID, Type: QuestionClarification, Message: "what do you mean?"},
	})
	if err != nil {
		t.Fatalf("AskQuestions: %v", err)
	}
	if r.Status != StatusDiscussing {
		t.Fatalf("status = %s, want %s", r.Status, StatusDiscussing)
	}

	r, err = e.AnswerComment(r.ID, "", comment.ID, "I mean exactly that")
	if err != nil {
		t.Fatalf("AnswerComment: %v", err)
	}
	if r.Status != StatusChangesRequested {
		t.Errorf("status = %s, want %s after the last answer", r.Status, StatusChangesRequested)
	}
}

func TestSubmitRevisionResolvesCommentsAndAdvancesStatus(t *testing.T) {
	e := newTestEngine(t)
	r, _ := e.Create("v1", "")
	_, _, _ = e.AddComment(r.ID, "", "v1", "fix this", TextPosition{StartOffset: 0, EndOffset: 2})
	r, _ = e.RequestChanges(r.ID, "")

	r, err := e.SubmitRevision(r.ID, "", "v2", AuthorAgent, "addressed feedback", nil)
	if err != nil {
		t.Fatalf("SubmitRevision: %v", err)
	}
	if r.Status != StatusUpdated {
		t.Errorf("status = %s, want %s", r.Status, StatusUpdated)
	}
	if len(r.UnresolvedComments()) != 0 {
		t.Errorf("expected all comments resolved by the revision")
	}
	if len(r.DocumentVersions) != 2 {
		t.Errorf("versions = %d, want 2", len(r.DocumentVersions))
	}
}

func TestSubmitRevisionRejectsWrongSourceStatus(t *testing.T) {
	e := newTestEngine(t)
	r, _ := e.Create("v1", "")

	if _, err := e.SubmitRevision(r.ID, "", "v2", AuthorAgent, "", nil); err == nil {
		t.Fatal("expected error submitting a revision from status open")
	} else if kind, _ := reviewerr.KindOf(err); kind != reviewerr.KindInvalidTransition {
		t.Errorf("kind = %v, want InvalidTransition", kind)
	}
}

func TestSubmitRevisionSameContentIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	r, _ := e.Create("v1", "")
	_, _, _ = e.AddComment(r.ID, "", "v1", "x", TextPosition{StartOffset: 0, EndOffset: 1})
	r, _ = e.RequestChanges(r.ID, "")

	r, err := e.SubmitRevision(r.ID, "", "v1", AuthorAgent, "", nil)
	if err != nil {
		t.Fatalf("SubmitRevision: %v", err)
	}
	if r.Status != StatusChangesRequested {
		t.Errorf("status changed on a no-op revision: got %s", r.Status)
	}
	if len(r.DocumentVersions) != 1 {
		t.Errorf("a no-op revision must not append a version, got %d", len(r.DocumentVersions))
	}
}

func TestApproveIsUnconditional(t *testing.T) {
	e := newTestEngine(t)
	r, _ := e.Create("v1", "")

	r, err := e.Approve(r.ID, "", "looks good")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if r.Status != StatusApproved {
		t.Errorf("status = %s, want %s", r.Status, StatusApproved)
	}
	if !r.ApprovedDirectly {
		t.Errorf("expected ApprovedDirectly when approving straight from open")
	}

	if _, err := e.Approve(r.ID, "", "again"); err == nil {
		t.Fatal("expected error re-approving an already-approved review")
	}
}

func TestRollbackToEarlierVersion(t *testing.T) {
	e := newTestEngine(t)
	r, _ := e.Create("v1", "")
	_, _, _ = e.AddComment(r.ID, "", "v1", "x", TextPosition{StartOffset: 0, EndOffset: 1})
	r, _ = e.RequestChanges(r.ID, "")
	r, _ = e.SubmitRevision(r.ID, "", "v2", AuthorAgent, "", nil)

	firstDigest := r.DocumentVersions[0].Digest
	r, err := e.Rollback(r.ID, "", firstDigest)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if r.CurrentVersion != firstDigest {
		t.Errorf("current version = %s, want %s", r.CurrentVersion, firstDigest)
	}
	if r.PlanContent != "v1" {
		t.Errorf("plan content = %q, want %q", r.PlanContent, "v1")
	}
	// Status is untouched by a rollback.
	if r.Status != StatusUpdated {
		t.Errorf("status = %s, want unchanged %s", r.Status, StatusUpdated)
	}
}

func TestRollbackRejectsApprovedReview(t *testing.T) {
	e := newTestEngine(t)
	r, _ := e.Create("v1", "")
	r, _ = e.Approve(r.ID, "", "")

	if _, err := e.Rollback(r.ID, "", r.DocumentVersions[0].Digest); err == nil {
		t.Fatal("expected error rolling back an approved review")
	}
}

func TestAuditSinkReceivesMutations(t *testing.T) {
	e := newTestEngine(t)
	sink := &recordingAuditor{}
	e.SetAuditor(sink)

	r, err := e.Create("v1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := e.AddComment(r.ID, "", "v1", "x", TextPosition{StartOffset: 0, EndOffset: 1}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if _, err := e.RequestChanges(r.ID, ""); err != nil {
		t.Fatalf("RequestChanges: %v", err)
	}

	var events []string
	for _, rec := range sink.records {
		events = append(events, rec.eventType)
	}
	want := []string{"comment_added", "status_changed"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i, e := range want {
		if events[i] != e {
			t.Errorf("events[%d] = %s, want %s", i, events[i], e)
		}
	}
}

type auditRecord struct {
	reviewID  string
	eventType string
	eventData string
}

type recordingAuditor struct {
	records []auditRecord
}

func (a *recordingAuditor) Record(reviewID, eventType, eventData string, _ time.Time) {
	a.records = append(a.records, auditRecord{reviewID: reviewID, eventType: eventType, eventData: eventData})
}
