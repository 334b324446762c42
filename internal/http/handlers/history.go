package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/EnvelopeHack/video-streamer/internal/history"
)

// HistoryLister reads finished session records.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Record, error)
}

// HistoryHandler exposes finished session records.
type HistoryHandler struct {
	repo HistoryLister
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(repo HistoryLister) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// ListHistoryInput is the input for listing history.
type ListHistoryInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum number of records"`
}

// ListHistoryOutput is the output for listing history.
type ListHistoryOutput struct {
	Body struct {
		Records []history.Record `json:"records"`
	}
}

// Register registers the history routes.
func (h *HistoryHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessionHistory",
		Method:      "GET",
		Path:        "/api/v1/history",
		Summary:     "List finished stream sessions",
		Description: "Returns recently finished sessions, most recent first",
		Tags:        []string{"Streaming"},
	}, h.List)
}

// List returns finished sessions.
func (h *HistoryHandler) List(ctx context.Context, input *ListHistoryInput) (*ListHistoryOutput, error) {
	recs, err := h.repo.List(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list session history", err)
	}
	out := &ListHistoryOutput{}
	out.Body.Records = recs
	if out.Body.Records == nil {
		out.Body.Records = []history.Record{}
	}
	return out, nil
}
