package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/arctek/reviewsrv/internal/render"
	"github.com/arctek/reviewsrv/review"
	"github.com/arctek/reviewsrv/reviewerr"
)

func notFoundVersion(hash string) error {
	return reviewerr.NotFound("version %s", hash)
}

// createReview handles POST /api/reviews.
func (s *Server) createReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan        string `json:"plan"`
		ProjectPath string `json:"projectPath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	if req.Plan == "" {
		s.badRequest(w, "plan is required")
		return
	}
	rev, err := s.engine.Create(req.Plan, req.ProjectPath)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// getReview handles GET /api/reviews/{id}.
func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rev, err := s.engine.Get(id, r.URL.Query().Get("project"))
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// getLatest handles GET /api/reviews/latest?project=...
func (s *Server) getLatest(w http.ResponseWriter, r *http.Request) {
	rev, err := s.engine.Latest(r.URL.Query().Get("project"))
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// getRendered handles GET /api/reviews/{id}/rendered, a convenience
// endpoint converting the plan's current (or a requested) version to HTML
// via goldmark. Additive to §6; does not replace the raw planContent field.
func (s *Server) getRendered(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rev, err := s.engine.Get(id, r.URL.Query().Get("project"))
	if err != nil {
		s.jsonError(w, err)
		return
	}
	content := rev.PlanContent
	if v := r.URL.Query().Get("version"); v != "" {
		ver := rev.FindVersion(v)
		if ver == nil {
			s.jsonError(w, notFoundVersion(v))
			return
		}
		content = ver.Content
	}
	html, err := render.Markdown(content)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"html": html})
}

// addComment handles POST /api/reviews/{id}/comments.
func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Quote    string              `json:"quote"`
		Comment  string              `json:"comment"`
		Position review.TextPosition `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	rev, _, err := s.engine.AddComment(id, r.URL.Query().Get("project"), req.Quote, req.Comment, req.Position)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// editComment handles PUT /api/reviews/{id}/comments/{cid}.
func (s *Server) editComment(w http.ResponseWriter, r *http.Request) {
	id, cid := r.PathValue("id"), r.PathValue("cid")
	var req struct {
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	rev, err := s.engine.EditComment(id, r.URL.Query().Get("project"), cid, req.Comment)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// deleteComment handles DELETE /api/reviews/{id}/comments/{cid}.
func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request) {
	id, cid := r.PathValue("id"), r.PathValue("cid")
	rev, err := s.engine.DeleteComment(id, r.URL.Query().Get("project"), cid)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// answerComment handles POST /api/reviews/{id}/comments/{cid}/answer.
func (s *Server) answerComment(w http.ResponseWriter, r *http.Request) {
	id, cid := r.PathValue("id"), r.PathValue("cid")
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	rev, err := s.engine.AnswerComment(id, r.URL.Query().Get("project"), cid, req.Answer)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// submitPlan handles PUT /api/reviews/{id}/plan -- the agent's update_plan
// operation exposed over HTTP (the interceptor's "update-plan" call).
func (s *Server) submitPlan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Content           string            `json:"content"`
		Author            review.Author     `json:"author"`
		ChangeDescription string            `json:"changeDescription"`
		ResolvedComments  map[string]string `json:"resolvedComments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	if req.Author == "" {
		req.Author = review.AuthorAgent
	}
	rev, err := s.engine.SubmitRevision(id, r.URL.Query().Get("project"), req.Content, req.Author, req.ChangeDescription, req.ResolvedComments)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// listVersions handles GET /api/reviews/{id}/versions.
func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rev, err := s.engine.Get(id, r.URL.Query().Get("project"))
	if err != nil {
		s.jsonError(w, err)
		return
	}
	type summary struct {
		Digest      string        `json:"digest"`
		CreatedAt   string        `json:"createdAt"`
		Description string        `json:"description,omitempty"`
		Author      review.Author `json:"author"`
	}
	out := make([]summary, len(rev.DocumentVersions))
	for i, v := range rev.DocumentVersions {
		out[i] = summary{Digest: v.Digest, CreatedAt: v.CreatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"), Description: v.Description, Author: v.Author}
	}
	s.jsonResponse(w, out)
}

// getVersion handles GET /api/reviews/{id}/versions/{hash}.
func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	id, hash := r.PathValue("id"), r.PathValue("hash")
	rev, err := s.engine.Get(id, r.URL.Query().Get("project"))
	if err != nil {
		s.jsonError(w, err)
		return
	}
	v := rev.FindVersion(hash)
	if v == nil {
		s.jsonError(w, notFoundVersion(hash))
		return
	}
	s.jsonResponse(w, v)
}

// getDiff handles GET /api/reviews/{id}/diff?from=&to=.
func (s *Server) getDiff(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		s.badRequest(w, "from and to query parameters are required")
		return
	}
	d, err := s.engine.Diff(id, r.URL.Query().Get("project"), from, to)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, d)
}

// rollback handles POST /api/reviews/{id}/rollback.
func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		VersionHash string `json:"versionHash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	rev, err := s.engine.Rollback(id, r.URL.Query().Get("project"), req.VersionHash)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// approve handles POST /api/reviews/{id}/approve.
func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Note string `json:"note"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional
	rev, err := s.engine.Approve(id, r.URL.Query().Get("project"), req.Note)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// requestChanges handles POST /api/reviews/{id}/request-changes.
func (s *Server) requestChanges(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rev, err := s.engine.RequestChanges(id, r.URL.Query().Get("project"))
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// askQuestions handles POST /api/reviews/{id}/ask-questions, the
// non-blocking HTTP variant of the agent's ask_questions tool (§4.6):
// direct HTTP callers apply the questions and get the updated Review back
// immediately rather than suspending for the human's answers.
func (s *Server) askQuestions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Questions []review.QuestionInput `json:"questions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	rev, err := s.engine.AskQuestions(id, r.URL.Query().Get("project"), req.Questions)
	if err != nil {
		s.jsonError(w, err)
		return
	}
	s.jsonResponse(w, rev)
}

// events handles GET /api/reviews/{id}/events, delegating to the
// Subscriber Gateway for the long-lived SSE stream.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.gateway.ServeReviewEvents(w, r, id, r.URL.Query().Get("project"))
}
