package protocol

import "time"

// TTSRequest asks a synthesis node to speak text. SessionID is optional; the
// node assigns one when it is missing.
type TTSRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
	Target    string `json:"target,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// AudioChunk carries synthesized PCM back onto the bus.
type AudioChunk struct {
	SessionID   string `json:"session_id"`
	Target      string `json:"target,omitempty"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	SampleWidth int    `json:"sample_width"`
	Sequence    int    `json:"sequence"`
	PCM         []byte `json:"pcm"`
	Final       bool   `json:"final"`
}

// TTSStatus closes out a request.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Stopped   bool      `json:"stopped,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TTSStop interrupts whatever the node is currently synthesizing.
type TTSStop struct {
	Reason string `json:"reason,omitempty"`
}

const (
	SubjectTTSRequest = "tts.request"
	SubjectTTSStop    = "tts.stop"
	SubjectTTSAudio   = "tts.audio"
	SubjectTTSDone    = "tts.done"
)
