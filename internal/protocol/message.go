// Package protocol implements the typed, correlated host<->worker message
// channel: request/response frames carrying a shared id, a JSON wire
// shape, and a pending-request lifecycle with timeout and cancellation.
package protocol

import "encoding/json"

// Type is the closed set of frame types exchanged over a Channel.
type Type string

const (
	TypeInit            Type = "Init"
	TypeGenerate        Type = "Generate"
	TypeGenerateStream  Type = "GenerateStream"
	TypeCancel          Type = "Cancel"
	TypeGetMemoryStats  Type = "GetMemoryStats"
	TypeGetModelInfo    Type = "GetModelInfo"
	TypeUnloadModel     Type = "UnloadModel"
	TypeResetContext    Type = "ResetContext"
	TypeDescribeFrame   Type = "DescribeFrame"
	TypeEmbed           Type = "Embed"
	TypeFree            Type = "Free"

	TypeSuccess        Type = "Success"
	TypeError          Type = "Error"
	TypeStreamChunk    Type = "StreamChunk"
	TypeProgress       Type = "Progress"
	TypeMemoryPressure Type = "MemoryPressure"
	TypePolicyUpdate   Type = "PolicyUpdate"
	TypeCancelAck      Type = "CancelAck"
)

// Frame is the wire envelope: {type, id, ...payload}. Payload is kept as
// raw JSON and decoded into a typed struct once Type is known.
type Frame struct {
	Type    Type            `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StopReason is the closed set of terminal stream reasons.
type StopReason string

const (
	StopMaxTokens     StopReason = "max_tokens"
	StopStopSequence  StopReason = "stop_sequence"
	StopCancelled     StopReason = "cancelled"
	StopError         StopReason = "error"
)

// StreamChunk is one increment of a streaming generation response.
type StreamChunk struct {
	Token             string  `json:"token"`
	CumulativeText    string  `json:"cumulativeText"`
	TokensGenerated   int     `json:"tokensGenerated"`
	Done              bool    `json:"done"`
	Confidence        float64 `json:"confidence,omitempty"`
	AvgConfidence     float64 `json:"avgConfidence,omitempty"`
	NeedsCloudHandoff bool    `json:"needsCloudHandoff,omitempty"`
	TokenIndex        int     `json:"tokenIndex"`

	TimeMs          float64    `json:"timeMs,omitempty"`
	TokensPerSecond float64    `json:"tokensPerSecond,omitempty"`
	StopReason      StopReason `json:"stopReason,omitempty"`
}

// GenerateResult is the terminal result of a blocking generation call;
// it is what a reduction over a GenerateStream's chunks would produce.
type GenerateResult struct {
	Text            string     `json:"text"`
	TokensGenerated int        `json:"tokensGenerated"`
	TimeMs          float64    `json:"timeMs"`
	TokensPerSecond float64    `json:"tokensPerSecond"`
	Stopped         bool       `json:"stopped"`
	StopReason      StopReason `json:"stopReason"`
}

// ErrorPayload is the payload of a TypeError frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MemoryPressurePayload is an unsolicited notification sent when a
// worker's memory usage crosses its configured limit ratio.
type MemoryPressurePayload struct {
	CurrentBytes  uint64  `json:"currentBytes"`
	LimitBytes    uint64  `json:"limitBytes"`
	PressureRatio float64 `json:"pressureRatio"`
	TimestampUnix int64   `json:"timestamp"`
}

// PolicyUpdatePayload broadcasts a QoS level change per workload.
type PolicyUpdatePayload struct {
	QoSByWorkload map[string]string `json:"qosByWorkload"`
}

// ProgressPayload reports load progress during Init.
type ProgressPayload struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
}
