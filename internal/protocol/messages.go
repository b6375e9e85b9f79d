package protocol

import "time"

// AudioFrame carries PCM audio streamed from capture clients.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TranscriptSegment is one recognized unit with centisecond bounds.
type TranscriptSegment struct {
	Text    string `json:"text"`
	StartCS int64  `json:"start_cs"`
	EndCS   int64  `json:"end_cs"`
}

// Transcript is recognition output broadcast on the bus. Segments are only
// populated on final transcripts.
type Transcript struct {
	SessionID string              `json:"session_id"`
	Text      string              `json:"text"`
	Language  string              `json:"language,omitempty"`
	Partial   bool                `json:"partial"`
	Segments  []TranscriptSegment `json:"segments,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "asr.text.partial"
	SubjectTranscriptFinal   = "asr.text.final"
)
