package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/loopcast/internal/events"
)

// registerSSERoutes registers the job lifecycle event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time job state changes, job endings and auto-start decisions for all sessions",
		Tags:        []string{"events"},
	}, map[string]any{
		"job-state-changed":  events.JobStateChangedEvent{},
		"job-ended":          events.JobEndedEvent{},
		"autostart-decision": events.AutoStartDecisionEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.JobStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.JobEndedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.AutoStartDecisionEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
