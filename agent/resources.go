package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arctek/reviewsrv/reviewerr"
)

// resourceTemplates are the URI-templated resources advertised by
// resources/list, grounded on the Definition() shape from the pack's
// specmcp content-resources file (URI, Name, Description, MimeType).
var resourceTemplates = []map[string]interface{}{
	{
		"uriTemplate": "review://project/{encodedPath}/pending",
		"name":        "Pending reviews",
		"description": "Summary list (id, status, timestamps, counts) of non-terminal reviews for a project",
		"mimeType":    "application/json",
	},
	{
		"uriTemplate": "review://project/{encodedPath}/current",
		"name":        "Current review",
		"description": "The freshest pending review for a project, with full plan content and comments",
		"mimeType":    "application/json",
	},
	{
		"uri":         "review://{id}",
		"name":        "Review",
		"description": "One review in full, by id",
		"mimeType":    "application/json",
	},
}

type resourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// readResource resolves uri against the three templates in §4.6 and
// returns its content. Resources are idempotent, cacheable, and never
// mutate state -- each call is a plain Engine read.
func (s *Server) readResource(uri string) ([]resourceContent, error) {
	switch {
	case strings.HasPrefix(uri, "review://project/"):
		rest := strings.TrimPrefix(uri, "review://project/")
		switch {
		case strings.HasSuffix(rest, "/pending"):
			return s.readPending(uri, strings.TrimSuffix(rest, "/pending"))
		case strings.HasSuffix(rest, "/current"):
			return s.readCurrent(uri, strings.TrimSuffix(rest, "/current"))
		default:
			return nil, reviewerr.ValidationError("unrecognized project resource %q", uri)
		}
	case strings.HasPrefix(uri, "review://"):
		id := strings.TrimPrefix(uri, "review://")
		return s.readReview(uri, id)
	default:
		return nil, reviewerr.ValidationError("unrecognized resource uri %q", uri)
	}
}

// encodedPath segments are already filesystem-safe (no "/" or ":"), so
// re-applying review.EncodeProjectPath inside the Engine/Store is a no-op;
// passing them straight through to ListPending is correct.

func (s *Server) readPending(uri, encodedPath string) ([]resourceContent, error) {
	reviews, err := s.engine.ListPending(encodedPath)
	if err != nil {
		return nil, err
	}
	type summary struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		CreatedAt        string `json:"createdAt"`
		CommentCount     int    `json:"commentCount"`
		UnresolvedCount  int    `json:"unresolvedCount"`
	}
	out := make([]summary, len(reviews))
	for i, r := range reviews {
		out[i] = summary{
			ID:              r.ID,
			Status:          string(r.Status),
			CreatedAt:       r.CreatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
			CommentCount:    len(r.Comments),
			UnresolvedCount: len(r.UnresolvedComments()),
		}
	}
	return jsonContent(uri, out)
}

func (s *Server) readCurrent(uri, encodedPath string) ([]resourceContent, error) {
	// The "current" resource is the freshest *pending* review, not simply
	// the most-recently-modified one -- Latest would keep surfacing an
	// already-approved review as "current" until something newer is saved.
	// ListPending is already mtime-sorted descending, so its head is correct.
	pending, err := s.engine.ListPending(encodedPath)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, reviewerr.NotFound("no pending reviews in project %q", encodedPath)
	}
	return jsonContent(uri, pending[0])
}

func (s *Server) readReview(uri, id string) ([]resourceContent, error) {
	r, err := s.engine.Get(id, "")
	if err != nil {
		return nil, err
	}
	return jsonContent(uri, r)
}

func jsonContent(uri string, v interface{}) ([]resourceContent, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal resource: %w", err)
	}
	return []resourceContent{{URI: uri, MimeType: "application/json", Text: string(data)}}, nil
}
