package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/EnvelopeHack/video-streamer/internal/stream"
)

// SessionLister lists live streaming sessions.
type SessionLister interface {
	List() []stream.Stats
	Count() int
}

// SessionsHandler exposes live streaming sessions.
type SessionsHandler struct {
	sessions SessionLister
}

// NewSessionsHandler creates a sessions handler.
func NewSessionsHandler(sessions SessionLister) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

// ListSessionsInput is the input for listing sessions.
type ListSessionsInput struct{}

// ListSessionsOutput is the output for listing sessions.
type ListSessionsOutput struct {
	Body struct {
		Count    int            `json:"count"`
		Sessions []stream.Stats `json:"sessions"`
	}
}

// Register registers the session routes.
func (h *SessionsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List active stream sessions",
		Tags:        []string{"Streaming"},
	}, h.List)
}

// List returns the live sessions, oldest first.
func (h *SessionsHandler) List(_ context.Context, _ *ListSessionsInput) (*ListSessionsOutput, error) {
	out := &ListSessionsOutput{}
	out.Body.Sessions = h.sessions.List()
	if out.Body.Sessions == nil {
		out.Body.Sessions = []stream.Stats{}
	}
	out.Body.Count = len(out.Body.Sessions)
	return out, nil
}
