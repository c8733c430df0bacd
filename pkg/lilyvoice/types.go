package lilyvoice

import "time"

// ConnectionState enum
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateUnregistered ConnectionState = "unregistered"
	StateRegistered   ConnectionState = "registered"
	StateClosing      ConnectionState = "closing"
)

// Status is the projection of ConnectionState that listeners receive on
// every state transition. Registered implies Connected.
type Status struct {
	Connected  bool `json:"connected"`
	Registered bool `json:"registered"`
}

// Chunk is one interval's worth of captured microphone audio, raw PCM16
// little-endian. Ownership passes to the session on send.
type Chunk struct {
	Data       []byte
	CapturedAt time.Time
}

// ClipFormat describes how a received binary frame should be decoded.
type ClipFormat string

const (
	ClipFormatWAV   ClipFormat = "wav"
	ClipFormatPCM16 ClipFormat = "pcm16"
)

// Clip is one backend-delivered audio payload queued for playback.
type Clip struct {
	Data       []byte
	Format     ClipFormat
	ReceivedAt time.Time
}

// Handler types
type StatusHandler func(Status)
type MessageHandler func(string)
type BinaryHandler func([]byte)
type PlayingHandler func(bool)
