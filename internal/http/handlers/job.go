// Package handlers implements the API operations exposed by the HTTP
// frontend.
package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bleedingxiko/ghoststream/internal/jobs"
)

// JobHandler adapts the job manager to the API surface.
type JobHandler struct {
	manager *jobs.Manager
}

// NewJobHandler creates a job handler.
func NewJobHandler(manager *jobs.Manager) *JobHandler {
	return &JobHandler{manager: manager}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createJob",
		Method:        "POST",
		Path:          "/api/v1/jobs",
		Summary:       "Create job",
		Description:   "Submits a transcoding request and returns the queued job",
		Tags:          []string{"Jobs"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns all tracked jobs",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a job by ID and refreshes its last-access time",
		Tags:        []string{"Jobs"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Description: "Withdraws a queued or processing job",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "deleteJob",
		Method:      "DELETE",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Delete job",
		Description: "Cancels a job if live, reclaims its artifacts, and removes the record",
		Tags:        []string{"Jobs"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "touchJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/touch",
		Summary:     "Touch job",
		Description: "Refreshes a job's last-access time",
		Tags:        []string{"Jobs"},
	}, h.Touch)
}

// CreateJobInput wraps the submission request.
type CreateJobInput struct {
	Body jobs.Request
}

// JobOutput wraps a single job view.
type JobOutput struct {
	Body jobs.View
}

// Create handles POST /api/v1/jobs.
func (h *JobHandler) Create(_ context.Context, input *CreateJobInput) (*JobOutput, error) {
	view, err := h.manager.Create(input.Body)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidRequest) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, huma.Error500InternalServerError("creating job", err)
	}
	return &JobOutput{Body: view}, nil
}

// ListJobsOutput wraps the job list.
type ListJobsOutput struct {
	Body struct {
		Jobs []jobs.View `json:"jobs"`
	}
}

// List handles GET /api/v1/jobs.
func (h *JobHandler) List(_ context.Context, _ *struct{}) (*ListJobsOutput, error) {
	out := &ListJobsOutput{}
	out.Body.Jobs = h.manager.AllJobs()
	return out, nil
}

// JobIDInput carries the path parameter.
type JobIDInput struct {
	ID string `path:"id" doc:"Job identifier"`
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobHandler) Get(_ context.Context, input *JobIDInput) (*JobOutput, error) {
	view, err := h.manager.Get(input.ID, true)
	if err != nil {
		return nil, huma.Error404NotFound("job not found")
	}
	return &JobOutput{Body: view}, nil
}

// CancelOutput reports the cancellation outcome.
type CancelOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Cancel handles POST /api/v1/jobs/{id}/cancel.
func (h *JobHandler) Cancel(_ context.Context, input *JobIDInput) (*CancelOutput, error) {
	err := h.manager.Cancel(input.ID)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return nil, huma.Error404NotFound("job not found")
	case errors.Is(err, jobs.ErrNotCancellable):
		return nil, huma.Error400BadRequest("job is not cancellable")
	case err != nil:
		return nil, huma.Error500InternalServerError("cancelling job", err)
	}

	out := &CancelOutput{}
	out.Body.Status = "cancelled"
	return out, nil
}

// DeleteOutput acknowledges a deletion.
type DeleteOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Delete handles DELETE /api/v1/jobs/{id}.
func (h *JobHandler) Delete(_ context.Context, input *JobIDInput) (*DeleteOutput, error) {
	if err := h.manager.Delete(input.ID); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error500InternalServerError("deleting job", err)
	}
	out := &DeleteOutput{}
	out.Body.Status = "deleted"
	return out, nil
}

// TouchOutput acknowledges a touch.
type TouchOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Touch handles POST /api/v1/jobs/{id}/touch.
func (h *JobHandler) Touch(_ context.Context, input *JobIDInput) (*TouchOutput, error) {
	h.manager.Touch(input.ID)
	out := &TouchOutput{}
	out.Body.Status = "ok"
	return out, nil
}
