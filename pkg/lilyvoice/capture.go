package lilyvoice

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// CaptureController bridges the microphone to the session. While capturing
// it flushes a chunk of PCM16 audio every chunk interval, feeds the
// activity detector, and gates every chunk on the session being both
// connected and registered. A connectivity watcher stops capture
// automatically when the session drops mid-stream.
type CaptureController struct {
	cfg *AudioConfig
	log *Logger
	vad *ActivityDetector

	// Indirections over the session so gating can be exercised without a
	// live socket.
	sendFrame func([]byte) error
	status    func() Status

	mu      sync.Mutex
	active  bool
	gen     uint64
	stream  *portaudio.Stream
	pending []int16

	onAutoStop func(Status)
}

func NewCaptureController(session *Session, cfg *AudioConfig, logger *Logger) *CaptureController {
	if cfg == nil {
		cfg = NewAudioConfig()
	}
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &CaptureController{
		cfg:       cfg,
		log:       logger.WithComponent("Capture"),
		vad:       NewActivityDetector(cfg.ActivityThreshold, cfg.ActivityHold),
		sendFrame: session.SendBinary,
		status:    session.Status,
	}
}

// SetAutoStopHandler registers a callback invoked after the connectivity
// watcher stops capture because the session dropped.
func (c *CaptureController) SetAutoStopHandler(h func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAutoStop = h
}

// Start acquires the microphone and begins chunked capture. Device and
// permission failures are returned to the caller; they are the only
// capture errors that need user action.
func (c *CaptureController) Start() error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return NewClientError("capture already active", ErrCodeAlreadyCapturing)
	}
	c.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return newDeviceError(err)
	}

	stream, err := c.openInputStream()
	if err != nil {
		portaudio.Terminate()
		return newDeviceError(err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return newDeviceError(err)
	}

	c.mu.Lock()
	c.active = true
	c.gen++
	c.stream = stream
	c.pending = nil
	gen := c.gen
	c.mu.Unlock()

	c.log.LogAudioEvent("capture_started", map[string]interface{}{
		"sample_rate":    c.cfg.SampleRate,
		"chunk_interval": c.cfg.ChunkInterval.String(),
	})

	go c.chunkLoop(gen)
	go c.watchLoop(gen)
	return nil
}

func (c *CaptureController) openInputStream() (*portaudio.Stream, error) {
	callback := func(in []int16) {
		c.onInput(in)
	}

	if c.cfg.InputDeviceID == nil {
		return portaudio.OpenDefaultStream(c.cfg.Channels, 0,
			float64(c.cfg.SampleRate), c.cfg.FramesPerBuffer, callback)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	id := *c.cfg.InputDeviceID
	if id < 0 || id >= len(devices) {
		return nil, NewClientError("no such input device", ErrCodeDeviceUnavailable).
			AddDetail("device_id", id)
	}

	params := portaudio.HighLatencyParameters(devices[id], nil)
	params.Input.Channels = c.cfg.Channels
	params.SampleRate = float64(c.cfg.SampleRate)
	params.FramesPerBuffer = c.cfg.FramesPerBuffer
	return portaudio.OpenStream(params, callback)
}

func (c *CaptureController) onInput(in []int16) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, in...)
	c.mu.Unlock()

	c.vad.Process(in)
}

func (c *CaptureController) chunkLoop(gen uint64) {
	ticker := time.NewTicker(c.cfg.ChunkInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if gen != c.gen || !c.active {
			c.mu.Unlock()
			return
		}
		samples := c.pending
		c.pending = nil
		c.mu.Unlock()

		if len(samples) == 0 {
			continue
		}
		c.deliverChunk(Chunk{Data: pcm16Bytes(samples), CapturedAt: time.Now()})
	}
}

// deliverChunk hands one chunk to the session, or drops it. A chunk goes
// out only while the session is registered and capture is still logically
// active; a Stop racing an in-flight chunk must win.
func (c *CaptureController) deliverChunk(chunk Chunk) bool {
	st := c.status()

	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if !st.Connected || !st.Registered || !active {
		c.log.LogAudioEvent("chunk_dropped", map[string]interface{}{
			"bytes":      len(chunk.Data),
			"connected":  st.Connected,
			"registered": st.Registered,
			"capturing":  active,
		})
		return false
	}

	if err := c.sendFrame(chunk.Data); err != nil {
		c.log.WithError(err).Warn("Audio chunk send failed")
		return false
	}
	c.log.LogAudioEvent("chunk_sent", map[string]interface{}{
		"bytes": len(chunk.Data),
	})
	return true
}

// watchLoop stops capture when the session is no longer able to take
// audio, so the microphone is not held open against a dead connection.
func (c *CaptureController) watchLoop(gen uint64) {
	ticker := time.NewTicker(c.cfg.ConnectivityCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if gen != c.gen || !c.active {
			c.mu.Unlock()
			return
		}
		onAutoStop := c.onAutoStop
		c.mu.Unlock()

		st := c.status()
		if st.Connected && st.Registered {
			continue
		}

		c.log.LogAudioEvent("capture_auto_stopped", map[string]interface{}{
			"connected":  st.Connected,
			"registered": st.Registered,
		})
		c.Stop()
		if onAutoStop != nil {
			onAutoStop(st)
		}
		return
	}
}

// Stop releases the microphone and resets activity state. Safe to call
// when already stopped.
func (c *CaptureController) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.gen++
	stream := c.stream
	c.stream = nil
	c.pending = nil
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			c.log.WithError(err).Warn("Input stream stop failed")
		}
		if err := stream.Close(); err != nil {
			c.log.WithError(err).Warn("Input stream close failed")
		}
		portaudio.Terminate()
	}

	c.vad.Reset()
	c.log.LogAudioEvent("capture_stopped", nil)
}

// Active reports whether capture is running.
func (c *CaptureController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// VoiceActive reports the hysteresis-applied voice activity flag.
func (c *CaptureController) VoiceActive() bool {
	return c.vad.Active()
}

// Level reports the most recent RMS input level, for UI meters.
func (c *CaptureController) Level() float64 {
	return c.vad.Level()
}

func pcm16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
