package review

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arctek/reviewsrv/reviewerr"
)

// Engine is the authoritative state machine: the only component allowed to
// mutate a Review. Every operation loads the aggregate from the Store,
// validates the requested transition, mutates in memory, persists, and only
// then publishes events -- so a subscriber never observes an event whose
// effect is not yet durable.
//
// Mutations are serialized per review by a dedicated mutex; the Engine
// itself holds no aggregate in memory between calls (the Store is the
// source of truth), so there is no separate "reentrancy" concern beyond the
// per-review critical section.
// AuditSink receives a record of every Engine mutation. Implementations
// must not block the mutation path; reviewaudit.DB.Add is fast (local
// SQLite) but a slow sink would still serialize behind the per-review
// mutex, so sinks should be cheap or do their own buffering.
type AuditSink interface {
	Record(reviewID, eventType, eventData string, at time.Time)
}

type Engine struct {
	store   *Store
	bus     *Bus
	auditor AuditSink

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEngine wires an Engine to its Store and Bus. Both are expected to be
// constructed by the caller and injected here rather than reached via
// package-level singletons, so tests can spin up independent instances.
func NewEngine(store *Store, bus *Bus) *Engine {
	return &Engine{
		store: store,
		bus:   bus,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetAuditor registers a, which from then on receives one record per
// mutation (transition, comment add/edit/delete/answer, version append,
// rollback). Passing nil disables auditing. Not safe to call concurrently
// with in-flight mutations.
func (e *Engine) SetAuditor(a AuditSink) {
	e.auditor = a
}

// audit records a mutation if an auditor is registered. eventData is a
// short human-readable summary, not a full JSON dump of the review.
func (e *Engine) audit(reviewID, eventType, eventData string) {
	if e.auditor == nil {
		return
	}
	e.auditor.Record(reviewID, eventType, eventData, time.Now())
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	return m
}

// withReview loads the review, runs fn under the review's mutex, persists
// the mutated aggregate if fn returns a nil error and dirty is true, and
// returns a read-only clone of the final state.
func (e *Engine) withReview(id, projectPath string, fn func(r *Review) (dirty bool, err error)) (*Review, error) {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	r, err := e.store.Load(id, projectPath)
	if err != nil {
		return nil, err
	}

	dirty, err := fn(r)
	if err != nil {
		return nil, err
	}

	if dirty {
		if err := e.store.Save(r); err != nil {
			return nil, err
		}
	}

	return r.Clone(), nil
}

// Create starts a new Review in status "open" with a single initial
// document version holding plan. The initial version is attributed to the
// agent, matching the data flow where an interceptor relays an in-flight
// agent plan submission to the Control Plane.
func (e *Engine) Create(plan, projectPath string) (*Review, error) {
	now := time.Now()
	digest := Digest(plan)
	r := &Review{
		ID:          uuid.New().String(),
		CreatedAt:   now,
		ProjectPath: projectPath,
		Status:      StatusOpen,
		PlanContent: plan,
		DocumentVersions: []DocumentVersion{{
			Digest:    digest,
			Content:   plan,
			CreatedAt: now,
			Author:    AuthorAgent,
		}},
		CurrentVersion: digest,
		Comments:       []Comment{},
	}
	if err := e.store.Save(r); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Get returns a snapshot of the review with the given id.
func (e *Engine) Get(id, projectPath string) (*Review, error) {
	r, err := e.store.Load(id, projectPath)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Latest returns the most-recently-modified review in projectPath.
func (e *Engine) Latest(projectPath string) (*Review, error) {
	r, err := e.store.Latest(projectPath)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// ListPending returns every non-terminal review in projectPath.
func (e *Engine) ListPending(projectPath string) ([]*Review, error) {
	rs, err := e.store.ListPending(projectPath)
	if err != nil {
		return nil, err
	}
	out := make([]*Review, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out, nil
}

// commentMutable reports whether s is one of the statuses in which a human may
// create, edit, or delete a comment (table in SPEC_FULL.md S4.2: "open" and
// "updated" are fully human-mutable).
func commentMutable(s Status) bool {
	return s == StatusOpen || s == StatusUpdated
}

// AddComment appends a new unresolved comment anchored at pos against the
// review's current document version.
func (e *Engine) AddComment(id, projectPath, quote, text string, pos TextPosition) (*Review, *Comment, error) {
	var created Comment
	result, err := e.withReview(id, projectPath, func(r *Review) (bool, error) {
		if !commentMutable(r.Status) {
			return false, reviewerr.InvalidTransition("cannot add comments while review is %s", r.Status)
		}
		if pos.StartOffset < 0 || pos.EndOffset < pos.StartOffset {
			return false, reviewerr.ValidationError("invalid comment position [%d,%d]", pos.StartOffset, pos.EndOffset)
		}
		created = Comment{
			ID:              uuid.New().String(),
			CreatedAt:       time.Now(),
			Quote:           quote,
			Text:            text,
			Position:        pos,
			DocumentVersion: r.CurrentVersion,
			PositionStatus:  PositionValid,
		}
		r.Comments = append(r.Comments, created)
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	e.audit(id, "comment_added", fmt.Sprintf("comment %s at [%d,%d]", created.ID, pos.StartOffset, pos.EndOffset))
	return result, &created, nil
}

// EditComment replaces the free-form text of an existing comment.
func (e *Engine) EditComment(id, projectPath, commentID, text string) (*Review, error) {
	r, err := e.withReview(id, projectPath, func(r *Review) (bool, error) {
		if !commentMutable(r.Status) {
			return false, reviewerr.InvalidTransition("cannot edit comments while review is %s", r.Status)
		}
		c := r.FindComment(commentID)
		if c == nil {
			return false, reviewerr.NotFound("comment %s", commentID)
		}
		c.Text = text
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	e.audit(id, "comment_edited", "comment "+commentID)
	return r, nil
}

// DeleteComment removes a comment from the review.
func (e *Engine) DeleteComment(id, projectPath, commentID string) (*Review, error) {
	r, err := e.withReview(id, projectPath, func(r *Review) (bool, error) {
		if !commentMutable(r.Status) {
			return false, reviewerr.InvalidTransition("cannot delete comments while review is %s", r.Status)
		}
		idx := -1
		for i, c := range r.Comments {
			if c.ID == commentID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return false, reviewerr.NotFound("comment %s", commentID)
		}
		r.Comments = append(r.Comments[:idx], r.Comments[idx+1:]...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	e.audit(id, "comment_deleted", "comment "+commentID)
	return r, nil
}

// AnswerComment records the human's answer to an agent question attached to
// a comment. Per the data model, answering does not resolve the comment --
// a comment is resolved only when a revision lands or the agent marks it
// accepted -- so the comment stays unresolved until update_plan or
// ask_questions(type=accepted) closes it out. If this is the last
// outstanding answer of a discussing round, the review leaves "discussing"
// back to "changes_requested" so a blocked ask_questions call can observe
// the predicate and resume -- see DESIGN.md's Open Question notes for why
// this transition exists beyond the literal edge table.
func (e *Engine) AnswerComment(id, projectPath, commentID, answer string) (*Review, error) {
	r, err := e.withReview(id, projectPath, func(r *Review) (bool, error) {
		c := r.FindComment(commentID)
		if c == nil {
			return false, reviewerr.NotFound("comment %s", commentID)
		}
		if c.Question == nil {
			return false, reviewerr.ValidationError("comment %s has no open question", commentID)
		}
		c.Answer = answer

		if r.Status == StatusDiscussing && !hasPendingDiscussion(r) {
			prev := r.Status
			r.Status = StatusChangesRequested
			e.publishStatusChanged(r.ID, prev, r.Status, "")
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	e.audit(id, "comment_answered", "comment "+commentID)
	return r, nil
}

// hasPendingDiscussion reports whether any comment still carries a
// non-accepted question awaiting an answer.
func hasPendingDiscussion(r *Review) bool {
	for _, c := range r.Comments {
		if c.Question != nil && c.Question.Type != QuestionAccepted && c.Answer == "" {
			return true
		}
	}
	return false
}

// RequestChanges transitions an "open" or "updated" review to
// "changes_requested". At least one unresolved comment is required.
func (e *Engine) RequestChanges(id, projectPath string) (*Review, error) {
	return e.withReview(id, projectPath, func(r *Review) (bool, error) {
		if r.Status != StatusOpen && r.Status != StatusUpdated {
			return false, reviewerr.InvalidTransition("cannot request changes from %s", r.Status)
		}
		if len(r.UnresolvedComments()) == 0 {
			return false, reviewerr.ValidationError("at least one unresolved comment is required to request changes")
		}
		prev := r.Status
		r.Status = StatusChangesRequested
		e.publishStatusChanged(r.ID, prev, r.Status, "")
		return true, nil
	})
}

// Approve is unconditional: it sets "approved" from any non-terminal
// status, regardless of pending comments or questions.
func (e *Engine) Approve(id, projectPath, note string) (*Review, error) {
	return e.withReview(id, projectPath, func(r *Review) (bool, error) {
		if r.Status == StatusApproved {
			return false, reviewerr.InvalidTransition("review is already approved")
		}
		prev := r.Status
		r.Status = StatusApproved
		r.ApprovalNote = note
		r.ApprovedDirectly = prev == StatusOpen
		e.publishStatusChanged(r.ID, prev, r.Status, r.PlanContent)
		return true, nil
	})
}

// SubmitRevision is the agent-originated "update_plan" operation: append a
// new document version and move the review to "updated", auto-resolving
// every comment still unresolved. Permitted only from "changes_requested"
// or "discussing" (the two edges in SPEC_FULL.md's transition table that
// produce "updated"); any other source status is rejected.
//
// Re-submitting content identical to the current version is a no-op: no
// version is appended, status is unchanged, and no event is published.
func (e *Engine) SubmitRevision(id, projectPath, content string, author Author, description string, resolutionOverrides map[string]string) (*Review, error) {
	return e.withReview(id, projectPath, func(r *Review) (bool, error) {
		if r.Status != StatusChangesRequested && r.Status != StatusDiscussing {
			return false, reviewerr.InvalidTransition("cannot submit a revision from %s", r.Status)
		}

		newDigest := Digest(content)
		if newDigest == r.CurrentVersion {
			return false, nil
		}

		prevDigest := r.CurrentVersion
		version := DocumentVersion{
			Digest:                newDigest,
			Content:               content,
			CreatedAt:             time.Now(),
			Description:           description,
			Author:                author,
			PreviousVersionDigest: prevDigest,
		}
		r.DocumentVersions = append(r.DocumentVersions, version)
		r.CurrentVersion = newDigest
		r.PlanContent = content

		var resolved []ResolvedCommentRef
		for i := range r.Comments {
			c := &r.Comments[i]
			if c.Resolved {
				continue
			}
			msg := DefaultResolutionMessage
			if resolutionOverrides != nil {
				if override, ok := resolutionOverrides[c.ID]; ok && override != "" {
					msg = override
				}
			}
			c.Resolved = true
			c.Resolution = &Resolution{
				ResolvedAt:        version.CreatedAt,
				ResolvedInVersion: newDigest,
				Message:           msg,
			}
			resolved = append(resolved, ResolvedCommentRef{CommentID: c.ID, Resolution: msg})
		}

		prevStatus := r.Status
		r.Status = StatusUpdated

		e.bus.Publish(Event{
			ReviewID: r.ID,
			Type:     EventVersionUpdated,
			Payload: VersionUpdatedPayload{
				Version: VersionSummary{
					Digest:      version.Digest,
					CreatedAt:   version.CreatedAt.Format(time.RFC3339Nano),
					Description: version.Description,
					Author:      version.Author,
				},
				Content:          version.Content,
				ResolvedComments: resolved,
			},
		})
		e.audit(r.ID, "version_updated", "version "+shortDigest(newDigest))
		e.publishStatusChanged(r.ID, prevStatus, r.Status, "")

		return true, nil
	})
}

// Rollback appends a new document version whose content equals the target
// version's, leaving the review's status untouched -- it never rewrites
// history and is a pure content operation. Rolling back to the current
// version is a no-op (same short-circuit as SubmitRevision).
func (e *Engine) Rollback(id, projectPath, targetDigest string) (*Review, error) {
	return e.withReview(id, projectPath, func(r *Review) (bool, error) {
		if r.Status == StatusApproved {
			return false, reviewerr.InvalidTransition("cannot roll back an approved review")
		}
		target := r.FindVersion(targetDigest)
		if target == nil {
			return false, reviewerr.NotFound("version %s", targetDigest)
		}
		if target.Digest == r.CurrentVersion {
			return false, nil
		}

		version := DocumentVersion{
			Digest:                target.Digest,
			Content:               target.Content,
			CreatedAt:             time.Now(),
			Description:           fmt.Sprintf("Rollback to %s", shortDigest(target.Digest)),
			Author:                AuthorHuman,
			PreviousVersionDigest: r.CurrentVersion,
		}
		r.DocumentVersions = append(r.DocumentVersions, version)
		r.CurrentVersion = version.Digest
		r.PlanContent = version.Content

		e.bus.Publish(Event{
			ReviewID: r.ID,
			Type:     EventVersionUpdated,
			Payload: VersionUpdatedPayload{
				Version: VersionSummary{
					Digest:      version.Digest,
					CreatedAt:   version.CreatedAt.Format(time.RFC3339Nano),
					Description: version.Description,
					Author:      version.Author,
				},
				Content:          version.Content,
				ResolvedComments: nil,
			},
		})
		e.audit(r.ID, "rollback", "to version "+shortDigest(target.Digest))
		return true, nil
	})
}

func shortDigest(digest string) string {
	if len(digest) > 8 {
		return digest[:8]
	}
	return digest
}

// QuestionInput is one entry of an ask_questions call.
type QuestionInput struct {
	CommentID string       `json:"commentId"`
	Type      QuestionType `json:"type"`
	Message   string       `json:"message"`
	Options   []string     `json:"options,omitempty"`
}

// AskQuestions applies the agent's questions to the named comments. Every
// unresolved comment must be covered; choice/multiChoice questions require
// options. Questions of type "accepted" resolve their comment immediately
// with no answer required. If any question is not "accepted", the review
// transitions to "discussing"; if every question is "accepted" (so every
// comment ends up resolved), the review stays in "changes_requested" since
// there is nothing left to discuss.
func (e *Engine) AskQuestions(id, projectPath string, questions []QuestionInput) (*Review, error) {
	return e.withReview(id, projectPath, func(r *Review) (bool, error) {
		if r.Status != StatusChangesRequested {
			return false, reviewerr.InvalidTransition("cannot ask questions from %s", r.Status)
		}

		covered := make(map[string]bool, len(questions))
		for _, q := range questions {
			covered[q.CommentID] = true
			if (q.Type == QuestionChoice || q.Type == QuestionMultiChoice) && len(q.Options) == 0 {
				return false, reviewerr.ValidationError("question for comment %s requires options", q.CommentID)
			}
			if r.FindComment(q.CommentID) == nil {
				return false, reviewerr.ValidationError("unknown comment %s", q.CommentID)
			}
		}
		for _, c := range r.UnresolvedComments() {
			if !covered[c.ID] {
				return false, reviewerr.ValidationError("ask_questions must cover unresolved comment %s", c.ID)
			}
		}

		var refs []QuestionRef
		hasNonAccepted := false
		for _, q := range questions {
			c := r.FindComment(q.CommentID)
			question := CommentQuestion{Type: q.Type, Message: q.Message, Options: q.Options}
			c.Question = &question
			refs = append(refs, QuestionRef{CommentID: q.CommentID, Question: question})

			if q.Type == QuestionAccepted {
				c.Resolved = true
				c.Resolution = &Resolution{ResolvedAt: time.Now(), Message: "accepted"}
			} else {
				hasNonAccepted = true
			}
		}

		e.bus.Publish(Event{
			ReviewID: r.ID,
			Type:     EventQuestionsUpdated,
			Payload:  QuestionsUpdatedPayload{Questions: refs},
		})
		e.audit(r.ID, "questions_asked", fmt.Sprintf("%d question(s)", len(refs)))

		if hasNonAccepted {
			prev := r.Status
			r.Status = StatusDiscussing
			e.publishStatusChanged(r.ID, prev, r.Status, "")
		}

		return true, nil
	})
}

// Diff computes the line diff between two document versions of review id.
func (e *Engine) Diff(id, projectPath, fromDigest, toDigest string) (Diff, error) {
	r, err := e.store.Load(id, projectPath)
	if err != nil {
		return Diff{}, err
	}
	from := r.FindVersion(fromDigest)
	if from == nil {
		return Diff{}, reviewerr.NotFound("version %s", fromDigest)
	}
	to := r.FindVersion(toDigest)
	if to == nil {
		return Diff{}, reviewerr.NotFound("version %s", toDigest)
	}
	return DiffContent(from.Content, to.Content), nil
}

func (e *Engine) publishStatusChanged(reviewID string, prev, next Status, planContent string) {
	e.audit(reviewID, "status_changed", fmt.Sprintf("%s -> %s", prev, next))
	e.bus.Publish(Event{
		ReviewID: reviewID,
		Type:     EventStatusChanged,
		Payload: StatusChangedPayload{
			Status:         next,
			PreviousStatus: prev,
			PlanContent:    planContent,
		},
	})
}

// Bus exposes the engine's event bus so the Gateway can subscribe directly.
func (e *Engine) Bus() *Bus { return e.bus }

// Store exposes the engine's content store for components that need direct
// read access without going through a mutation.
func (e *Engine) Store() *Store { return e.store }
