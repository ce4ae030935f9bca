package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/loopcast/internal/api/models"
	"github.com/smazurov/loopcast/internal/process"
	"github.com/smazurov/loopcast/internal/streams"
)

func (s *Server) registerJobRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "start-job",
		Method:        http.MethodPost,
		Path:          "/api/sessions/{session_id}/job",
		Summary:       "Start Job",
		Description:   "Loop a video file to the ingest endpoint under the given key",
		Tags:          []string{"jobs"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 409, 422, 500, 503},
	}, func(ctx context.Context, input *models.StartJobRequest) (*models.JobResponse, error) {
		info, err := s.streamService.StartJob(ctx, streams.StartParams{
			Session:        input.SessionID,
			SourcePath:     input.Body.Video,
			DestinationKey: input.Body.Key,
			Mode:           input.Body.Mode,
		})
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.JobResponse{Body: toJobData(*info, nil)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{session_id}/job",
		Summary:     "Get Job",
		Description: "Get the session's most recent job and its last output lines",
		Tags:        []string{"jobs"},
		Errors:      []int{404},
	}, func(ctx context.Context, input *models.SessionPath) (*models.JobResponse, error) {
		info, err := s.streamService.GetJob(ctx, input.SessionID)
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		lines, err := s.streamService.JobLines(ctx, input.SessionID)
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.JobResponse{Body: toJobData(*info, lines)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodDelete,
		Path:        "/api/sessions/{session_id}/job",
		Summary:     "Cancel Job",
		Description: "Stop the session's job and wait for the encoder to exit. Cancelling a finished job is a no-op.",
		Tags:        []string{"jobs"},
		Errors:      []int{404, 504},
	}, func(ctx context.Context, input *models.SessionPath) (*models.JobResponse, error) {
		info, err := s.streamService.CancelJob(ctx, input.SessionID)
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.JobResponse{Body: toJobData(*info, nil)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/jobs",
		Summary:     "List Jobs",
		Description: "Get the most recent job of every session",
		Tags:        []string{"jobs"},
	}, func(ctx context.Context, input *struct{}) (*models.JobListResponse, error) {
		infos := s.streamService.ListJobs(ctx)

		jobs := make([]models.JobData, len(infos))
		for i, info := range infos {
			jobs[i] = toJobData(info, nil)
		}

		return &models.JobListResponse{
			Body: models.JobListData{
				Jobs:  jobs,
				Count: len(jobs),
			},
		}, nil
	})
}

// toJobData converts a domain job snapshot to its API form.
func toJobData(info streams.JobInfo, lines []process.Line) models.JobData {
	data := models.JobData{
		JobID:      info.ID,
		SessionID:  info.SessionID,
		Trigger:    info.Trigger,
		SourcePath: info.SourcePath,
		Vertical:   info.Vertical,
		Command:    info.Command,
		State:      string(info.State),
		PID:        info.PID,
		ExitCode:   info.ExitCode,
		Error:      info.Error,
		LineCount:  info.LineCount,
		Progress:   info.Progress,
	}
	if !info.StartedAt.IsZero() {
		t := info.StartedAt
		data.StartedAt = &t
	}
	if !info.EndedAt.IsZero() {
		t := info.EndedAt
		data.EndedAt = &t
	}
	if len(lines) > 0 {
		data.Lines = make([]models.LineData, len(lines))
		for i, l := range lines {
			data.Lines[i] = models.LineData{Seq: l.Seq, Text: l.Text, Time: l.Time}
		}
	}
	return data
}

// mapStreamError maps domain errors to HTTP errors
func (s *Server) mapStreamError(err error) error {
	var streamErr *streams.StreamError
	if errors.As(err, &streamErr) {
		switch streamErr.Code {
		case streams.ErrCodeInvalidRequest:
			return huma.Error400BadRequest(streamErr.Message, err)
		case streams.ErrCodeSourceNotFound:
			return huma.Error422UnprocessableEntity(streamErr.Message, err)
		case streams.ErrCodeJobActive:
			return huma.Error409Conflict(streamErr.Message, err)
		case streams.ErrCodeJobNotFound:
			return huma.Error404NotFound(streamErr.Message, err)
		case streams.ErrCodeShuttingDown:
			return huma.Error503ServiceUnavailable(streamErr.Message, err)
		case streams.ErrCodeSpawnFailed:
			s.logger.Error("Encoder spawn failed", "error", err)
			return huma.Error500InternalServerError(streamErr.Message, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout("timed out waiting for the job to stop", err)
	}
	s.logger.Error("Unhandled stream service error", "error", err)
	return huma.Error500InternalServerError("internal server error", err)
}
