package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/arctek/reviewsrv/review"
	"github.com/arctek/reviewsrv/reviewerr"
)

func newTestServer(t *testing.T) (*Server, *review.Engine) {
	t.Helper()
	engine := review.NewEngine(review.NewStore(t.TempDir()), review.NewBus())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(engine, logger), engine
}

func TestDispatchInitialize(t *testing.T) {
	s, _ := newTestServer(t)
	resp := s.Dispatch(context.Background(), &Request{JSONRPC: "2.0", ID: float64(1), Method: "initialize"})
	if resp == nil || resp.Error != nil {
		t.Fatalf("resp = %+v, want a successful result", resp)
	}
}

func TestDispatchNotificationReturnsNil(t *testing.T) {
	s, _ := newTestServer(t)
	resp := s.Dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	if resp != nil {
		t.Fatalf("resp = %+v, want nil for a notification", resp)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	s, _ := newTestServer(t)
	resp := s.Dispatch(context.Background(), &Request{JSONRPC: "2.0", ID: float64(1), Method: "nope"})
	if resp == nil || resp.Error == nil {
		t.Fatalf("resp = %+v, want a method-not-found error", resp)
	}
	if resp.Error.Code != codeMethodNotFound {
		t.Errorf("code = %d, want %d", resp.Error.Code, codeMethodNotFound)
	}
}

func TestDispatchToolsList(t *testing.T) {
	s, _ := newTestServer(t)
	resp := s.Dispatch(context.Background(), &Request{JSONRPC: "2.0", ID: float64(1), Method: "tools/list"})
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result = %#v, want a map", resp.Result)
	}
	tools, ok := result["tools"].([]interface{})
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %#v, want one tool", result["tools"])
	}
}

func TestAskQuestionsAllAcceptedReturnsImmediately(t *testing.T) {
	s, engine := newTestServer(t)

	rev, err := engine.Create("plan", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, comment, err := engine.AddComment(rev.ID, "", "plan", "fine as-is", review.TextPosition{StartOffset: 0, EndOffset: 4})
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if _, err := engine.RequestChanges(rev.ID, ""); err != nil {
		t.Fatalf("RequestChanges: %v", err)
	}

	args, _ := json.Marshal(askQuestionsArgs{
		ReviewID: rev.ID,
		Questions: []review.QuestionInput{
			{CommentID: comment.ID, Type: review.QuestionAccepted, Message: "noted"},
		},
	})

	result := s.askQuestions(context.Background(), args)
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
}

func TestAskQuestionsBlocksUntilAnswered(t *testing.T) {
	s, engine := newTestServer(t)

	rev, _ := engine.Create("plan", "")
	_, comment, _ := engine.AddComment(rev.ID, "", "plan", "why?", review.TextPosition{StartOffset: 0, EndOffset: 4})
	if _, err := engine.RequestChanges(rev.ID, ""); err != nil {
		t.Fatalf("RequestChanges: %v", err)
	}

	// Apply the question synchronously (as s.askQuestions itself would)
	// before racing awaitResolution against AnswerComment, otherwise
	// AnswerComment could run before the comment's Question is set.
	discussing, err := engine.AskQuestions(rev.ID, "", []review.QuestionInput{
		{CommentID: comment.ID, Type: review.QuestionClarification, Message: "explain"},
	})
	if err != nil {
		t.Fatalf("AskQuestions: %v", err)
	}
	if discussing.Status != review.StatusDiscussing {
		t.Fatalf("status = %s, want %s", discussing.Status, review.StatusDiscussing)
	}

	type outcome struct {
		rev     *review.Review
		timeout bool
	}
	done := make(chan outcome, 1)
	go func() {
		r, timedOut := s.awaitResolution(context.Background(), rev.ID, "")
		done <- outcome{rev: r, timeout: timedOut}
	}()

	if _, err := engine.AnswerComment(rev.ID, "", comment.ID, "because reasons"); err != nil {
		t.Fatalf("AnswerComment: %v", err)
	}

	out := <-done
	if out.timeout {
		t.Fatal("awaitResolution timed out")
	}
	if out.rev.Status != review.StatusChangesRequested {
		t.Fatalf("status = %s, want %s", out.rev.Status, review.StatusChangesRequested)
	}
}

func TestReadCurrentIgnoresApprovedReview(t *testing.T) {
	s, engine := newTestServer(t)

	approved, err := engine.Create("first plan", "proj")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := engine.Approve(approved.ID, "proj", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// Approve touches the store more recently than nothing else, so under
	// the old Latest-based lookup the approved review would still win here
	// even though it is no longer pending.
	_, err = s.readResource("review://project/proj/current")
	if kind, ok := reviewerr.KindOf(err); !ok || kind != reviewerr.KindNotFound {
		t.Fatalf("err = %v, want a not_found error when only an approved review exists", err)
	}

	pending, err := engine.Create("second plan", "proj")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := engine.AddComment(pending.ID, "proj", "second", "needs work", review.TextPosition{StartOffset: 0, EndOffset: 6}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if _, err := engine.RequestChanges(pending.ID, "proj"); err != nil {
		t.Fatalf("RequestChanges: %v", err)
	}

	contents, err := s.readResource("review://project/proj/current")
	if err != nil {
		t.Fatalf("readResource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %+v, want exactly one", contents)
	}
	var got struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(contents[0].Text), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != pending.ID {
		t.Fatalf("current = %s, want the still-pending review %s, not the approved one", got.ID, pending.ID)
	}
}
