package ffmpeg

// Request describes one live-streaming job. It fully determines the command.
type Request struct {
	SourcePath     string // local video file, looped forever
	DestinationKey string // ingest key, appended verbatim to the ingest base
	Vertical       bool   // rescale to 720x1280 for shorts
}

// Fixed encoding policy expected by the ingest endpoint.
const (
	VideoCodec      = "libx264"
	VideoPreset     = "fast"
	VideoBitrate    = "2500k"
	VideoMaxRate    = "2500k"
	VideoBufferSize = "5000k"
	KeyframeInt     = "60"
	AudioCodec      = "aac"
	AudioBitrate    = "128k"
	OutputFormat    = "flv"
	VerticalScale   = "scale=720:1280"
)

// DefaultBinary is the encoder program looked up in PATH.
const DefaultBinary = "ffmpeg"

// DefaultIngestBase is the RTMP ingest endpoint the key is appended to.
const DefaultIngestBase = "rtmp://a.rtmp.youtube.com/live2/"
