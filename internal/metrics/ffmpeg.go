// Package metrics provides Prometheus metrics for stream jobs and encoder progress.
package metrics

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ffmpegFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "loopcast",
		Subsystem: "ffmpeg",
		Name:      "fps",
		Help:      "Current encoding FPS",
	}, []string{"session_id"})

	ffmpegSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "loopcast",
		Subsystem: "ffmpeg",
		Name:      "processing_speed",
		Help:      "Encoding speed relative to realtime",
	}, []string{"session_id"})

	ffmpegBitrate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "loopcast",
		Subsystem: "ffmpeg",
		Name:      "bitrate_kbps",
		Help:      "Current output bitrate in kbit/s",
	}, []string{"session_id"})

	ffmpegDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "loopcast",
		Subsystem: "ffmpeg",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped by the encoder",
	}, []string{"session_id"})

	// Last values per session for the job API
	progressCache   = make(map[string]*progressEntry)
	progressCacheMu sync.RWMutex

	statsSpacing = regexp.MustCompile(`=\s+`)
)

// Progress is the latest encoder statistics line for a session.
type Progress struct {
	Frame       int64   `json:"frame"`
	FPS         float64 `json:"fps"`
	BitrateKbps float64 `json:"bitrate_kbps"`
	Speed       float64 `json:"speed"`
	Dropped     int64   `json:"dropped_frames"`
	OutTime     string  `json:"out_time,omitempty"`
}

type progressEntry struct {
	jobID    string
	progress Progress
}

// ParseProgressLine parses an encoder statistics line such as
// "frame=  120 fps= 30 q=23.0 size=  512kB time=00:00:04.00 bitrate=1048.6kbits/s speed=1.0x".
// It reports false for any other output line.
func ParseProgressLine(line string) (Progress, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "frame=") {
		return Progress{}, false
	}

	fields := make(map[string]string)
	for _, tok := range strings.Fields(statsSpacing.ReplaceAllString(line, "=")) {
		k, v, ok := strings.Cut(tok, "=")
		if ok {
			fields[k] = v
		}
	}

	var p Progress
	var err error
	if p.Frame, err = strconv.ParseInt(fields["frame"], 10, 64); err != nil {
		return Progress{}, false
	}
	p.FPS, _ = strconv.ParseFloat(fields["fps"], 64)
	p.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(fields["speed"], "x"), 64)
	p.BitrateKbps, _ = strconv.ParseFloat(strings.TrimSuffix(fields["bitrate"], "kbits/s"), 64)
	p.Dropped, _ = strconv.ParseInt(fields["drop"], 10, 64)
	p.OutTime = fields["time"]
	return p, true
}

// ObserveProgress records p for a session on behalf of jobID.
func ObserveProgress(sessionID, jobID string, p Progress) {
	ffmpegFPS.WithLabelValues(sessionID).Set(p.FPS)
	ffmpegSpeed.WithLabelValues(sessionID).Set(p.Speed)
	ffmpegBitrate.WithLabelValues(sessionID).Set(p.BitrateKbps)
	ffmpegDroppedFrames.WithLabelValues(sessionID).Set(float64(p.Dropped))

	progressCacheMu.Lock()
	progressCache[sessionID] = &progressEntry{jobID: jobID, progress: p}
	progressCacheMu.Unlock()
}

// ObserveLine parses line and records it when it is a statistics line.
func ObserveLine(sessionID, jobID, line string) bool {
	p, ok := ParseProgressLine(line)
	if ok {
		ObserveProgress(sessionID, jobID, p)
	}
	return ok
}

// DeleteProgress removes a session's progress series if jobID recorded them
// last. Series written by a later job in the same session are left alone.
func DeleteProgress(sessionID, jobID string) {
	progressCacheMu.Lock()
	defer progressCacheMu.Unlock()
	if e, ok := progressCache[sessionID]; ok && e.jobID != jobID {
		return
	}
	delete(progressCache, sessionID)

	ffmpegFPS.DeleteLabelValues(sessionID)
	ffmpegSpeed.DeleteLabelValues(sessionID)
	ffmpegBitrate.DeleteLabelValues(sessionID)
	ffmpegDroppedFrames.DeleteLabelValues(sessionID)
}

// GetProgress returns a copy of the latest progress for a session, or nil.
func GetProgress(sessionID string) *Progress {
	progressCacheMu.RLock()
	defer progressCacheMu.RUnlock()
	if e, ok := progressCache[sessionID]; ok {
		dup := e.progress
		return &dup
	}
	return nil
}
