package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arctek/reviewsrv/review"
)

// askQuestionsTimeout is the hard cap SPEC_FULL.md §4.6/§5 places on a
// blocked ask_questions call.
const askQuestionsTimeout = 10 * time.Minute

// pollInterval is the fallback cadence for the Store-polling suspension
// path, used alongside the Bus subscription per DESIGN.md's Open Question
// decision ("both are equivalent behaviorally").
const pollInterval = 2 * time.Second

var askQuestionsToolDef = map[string]interface{}{
	"name":        "ask_questions",
	"description": "Post one or more questions to the human reviewer, attached to unresolved comments, and block until they are answered or the review leaves the discussing state.",
	"inputSchema": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reviewId": map[string]interface{}{"type": "string"},
			"questions": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"commentId": map[string]interface{}{"type": "string"},
						"type":      map[string]interface{}{"type": "string", "enum": []string{"clarification", "choice", "multiChoice", "accepted"}},
						"message":   map[string]interface{}{"type": "string"},
						"options":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					},
					"required": []string{"commentId", "type", "message"},
				},
			},
			"projectPath": map[string]interface{}{"type": "string"},
		},
		"required": []string{"reviewId", "questions"},
	},
}

type askQuestionsArgs struct {
	ReviewID    string                 `json:"reviewId"`
	ProjectPath string                 `json:"projectPath"`
	Questions   []review.QuestionInput `json:"questions"`
}

type answerTuple struct {
	CommentID string                  `json:"commentId"`
	Question  review.CommentQuestion  `json:"question"`
	Answer    string                  `json:"answer"`
}

type askQuestionsResult struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Answers []answerTuple `json:"answers,omitempty"`
}

// askQuestions implements the blocking ask_questions tool (SPEC_FULL.md
// §4.6). It applies the questions via the State Engine, then -- if any
// question is not of type "accepted" -- suspends until the review's status
// leaves "discussing" or the 10-minute deadline elapses.
func (s *Server) askQuestions(ctx context.Context, raw json.RawMessage) askQuestionsResult {
	var args askQuestionsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return askQuestionsResult{Success: false, Error: "invalid arguments: " + err.Error()}
	}

	rev, err := s.engine.AskQuestions(args.ReviewID, args.ProjectPath, args.Questions)
	if err != nil {
		return askQuestionsResult{Success: false, Error: err.Error()}
	}

	if rev.Status != review.StatusDiscussing {
		// Every question was "accepted"; nothing to wait for.
		return askQuestionsResult{Success: true, Answers: collectAnswers(rev, args.Questions)}
	}

	final, timedOut := s.awaitResolution(ctx, args.ReviewID, args.ProjectPath)
	if timedOut {
		return askQuestionsResult{Success: false, Error: "timeout"}
	}
	return askQuestionsResult{Success: true, Answers: collectAnswers(final, args.Questions)}
}

// awaitResolution blocks until reviewId's status leaves "discussing" or
// askQuestionsTimeout elapses. It races a Bus subscription (preferred)
// against a Store-polling ticker (fallback); whichever observes the
// predicate first wins, matching the "both are equivalent behaviorally"
// guidance in SPEC_FULL.md §9.
func (s *Server) awaitResolution(ctx context.Context, reviewID, projectPath string) (*review.Review, bool) {
	resolved := make(chan struct{}, 1)

	unsubscribe := s.engine.Bus().Subscribe(reviewID, func(e review.Event) {
		if e.Type != review.EventStatusChanged {
			return
		}
		payload, ok := e.Payload.(review.StatusChangedPayload)
		if !ok || payload.Status == review.StatusDiscussing {
			return
		}
		// Only signal here; the loop below re-reads the stored review and
		// keeps waiting until its saved status has left "discussing".
		select {
		case resolved <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	deadline := time.NewTimer(askQuestionsTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-resolved:
		case <-ticker.C:
		case <-deadline.C:
			return nil, true
		case <-ctx.Done():
			return nil, true
		}
		r, err := s.engine.Get(reviewID, projectPath)
		if err == nil && r.Status != review.StatusDiscussing {
			return r, false
		}
	}
}

// collectAnswers pairs each question's comment with the human's recorded
// answer (if any) and the question itself, in request order.
func collectAnswers(rev *review.Review, questions []review.QuestionInput) []answerTuple {
	out := make([]answerTuple, 0, len(questions))
	for _, q := range questions {
		c := rev.FindComment(q.CommentID)
		if c == nil || c.Question == nil {
			continue
		}
		out = append(out, answerTuple{CommentID: q.CommentID, Question: *c.Question, Answer: c.Answer})
	}
	return out
}
