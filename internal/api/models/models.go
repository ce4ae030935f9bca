package models

import (
	"time"

	"github.com/smazurov/loopcast/internal/metrics"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Session models
type SessionData struct {
	SessionID      string    `json:"session_id" example:"3f0c9a1e-7b2d-4c55-9a0e-2f6d1c8b7a10" doc:"Session identifier"`
	CreatedAt      time.Time `json:"created_at" doc:"When the session was created"`
	AutoStartFired bool      `json:"autostart_fired" example:"false" doc:"Whether the one-shot auto-start already ran"`
	HasJob         bool      `json:"has_job" example:"false" doc:"Whether the session has launched a job"`
}

type SessionResponse struct {
	Body SessionData
}

// SessionPath identifies a session in the URL.
type SessionPath struct {
	SessionID string `path:"session_id" minLength:"1" maxLength:"64" example:"3f0c9a1e-7b2d-4c55-9a0e-2f6d1c8b7a10" doc:"Session identifier"`
}

// Job models
type LineData struct {
	Seq  uint64    `json:"seq" example:"17" doc:"Per-job line sequence number"`
	Text string    `json:"text" example:"frame=  120 fps= 30 q=23.0" doc:"Output line"`
	Time time.Time `json:"time" doc:"Time the line was read"`
}

type JobData struct {
	JobID      string            `json:"job_id" doc:"Unique id of this launch"`
	SessionID  string            `json:"session_id" doc:"Owning session"`
	Trigger    string            `json:"trigger" enum:"manual,autostart" example:"manual" doc:"What launched the job"`
	SourcePath string            `json:"source_path" example:"/srv/media/loop.mp4" doc:"Resolved source file"`
	Vertical   bool              `json:"vertical" example:"false" doc:"Whether output is scaled to 720x1280"`
	Command    string            `json:"command" example:"ffmpeg -re -stream_loop -1 -i loop.mp4 ... rtmp://a.rtmp.youtube.com/live2/****" doc:"Encoder command with the destination key masked"`
	State      string            `json:"state" enum:"pending,running,completed,failed,cancelled" example:"running" doc:"Job state"`
	PID        int               `json:"pid,omitempty" example:"4242" doc:"Encoder process id"`
	StartedAt  *time.Time        `json:"started_at,omitempty" doc:"Process start time"`
	EndedAt    *time.Time        `json:"ended_at,omitempty" doc:"Time the job reached a terminal state"`
	ExitCode   int               `json:"exit_code" example:"-1" doc:"Process exit code, -1 while running or when not applicable"`
	Error      string            `json:"error,omitempty" doc:"Failure description"`
	LineCount  uint64            `json:"line_count" example:"120" doc:"Total output lines produced"`
	Progress   *metrics.Progress `json:"progress,omitempty" doc:"Latest encoder statistics while running"`
	Lines      []LineData        `json:"lines,omitempty" doc:"Most recent output lines, oldest first"`
}

type JobResponse struct {
	Body JobData
}

type JobListData struct {
	Jobs  []JobData `json:"jobs" doc:"Most recent job of every session"`
	Count int       `json:"count" example:"1" doc:"Number of jobs"`
}

type JobListResponse struct {
	Body JobListData
}

type StartJobData struct {
	Video string `json:"video" minLength:"1" example:"loop.mp4" doc:"Source video path, relative paths resolve against the media directory"`
	Key   string `json:"key" minLength:"1" example:"xxxx-xxxx-xxxx-xxxx" doc:"Destination stream key"`
	Mode  string `json:"mode,omitempty" example:"shorts" doc:"\"shorts\" (case-insensitive) selects vertical 720x1280 output"`
}

type StartJobRequest struct {
	SessionPath
	Body StartJobData
}

type AutoStartRequest struct {
	SessionPath
	Video string `query:"video" example:"loop.mp4" doc:"Source video path"`
	Key   string `query:"key" example:"xxxx-xxxx-xxxx-xxxx" doc:"Destination stream key"`
	Mode  string `query:"mode" example:"shorts" doc:"\"shorts\" selects vertical output"`
}

type AutoStartData struct {
	Launched bool     `json:"launched" example:"true" doc:"Whether this call launched a job"`
	Job      *JobData `json:"job,omitempty" doc:"The session's current job, if any"`
}

type AutoStartResponse struct {
	Body AutoStartData
}

// Error response
type ErrorData struct {
	Status  string `json:"status" example:"error" doc:"Error status"`
	Message string `json:"message" example:"Job not found" doc:"Error message"`
}

type ErrorResponse struct {
	Body ErrorData
}
