package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/loopcast/internal/api/models"
	"github.com/smazurov/loopcast/internal/streams"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/api/sessions",
		Summary:       "Create Session",
		Description:   "Create a session with an unfired auto-start guard",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct{}) (*models.SessionResponse, error) {
		info := s.streamService.CreateSession(ctx)
		return &models.SessionResponse{
			Body: models.SessionData{
				SessionID:      info.ID,
				CreatedAt:      info.CreatedAt,
				AutoStartFired: info.AutoStartFired,
				HasJob:         info.HasJob,
			},
		}, nil
	})

	// Safe to call on every page load: only the first call with both
	// parameters present launches a job for the session.
	huma.Register(s.api, huma.Operation{
		OperationID: "autostart-check",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{session_id}/autostart",
		Summary:     "Auto-start Check",
		Description: "Launch a job if video and key are both given and this session has not auto-started before",
		Tags:        []string{"sessions"},
		Errors:      []int{400, 422, 500, 503},
	}, func(ctx context.Context, input *models.AutoStartRequest) (*models.AutoStartResponse, error) {
		launched, info, err := s.streamService.AutoStart(ctx, streams.StartParams{
			Session:        input.SessionID,
			SourcePath:     input.Video,
			DestinationKey: input.Key,
			Mode:           input.Mode,
		})
		if err != nil {
			return nil, s.mapStreamError(err)
		}

		resp := &models.AutoStartResponse{Body: models.AutoStartData{Launched: launched}}
		if info != nil {
			job := toJobData(*info, nil)
			resp.Body.Job = &job
		}
		return resp, nil
	})
}
