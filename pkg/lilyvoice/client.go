package lilyvoice

import "time"

// Client composes the session, capture controller and playback queue into
// the surface a UI binds to: imperative connect/disconnect and
// start/stop-capture entry points plus observable status, message and
// playing signals.
type Client struct {
	cfg      *Config
	audioCfg *AudioConfig
	log      *Logger

	session  *Session
	capture  *CaptureController
	playback *PlaybackQueue
	store    *FileStore
}

// NewClient builds a fully wired client. Nil configs fall back to
// defaults; dataDir "" stores settings under the user config directory.
func NewClient(cfg *Config, audioCfg *AudioConfig, dataDir string) (*Client, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if audioCfg == nil {
		audioCfg = NewAudioConfig()
	}

	store, err := NewFileStore(dataDir)
	if err != nil {
		return nil, err
	}

	logger := GetGlobalLogger()
	session := NewSession(cfg, logger)
	capture := NewCaptureController(session, audioCfg, logger)
	playback := NewPlaybackQueue(audioCfg, logger)

	c := &Client{
		cfg:      cfg,
		audioCfg: audioCfg,
		log:      logger.WithComponent("Client"),
		session:  session,
		capture:  capture,
		playback: playback,
		store:    store,
	}

	// Backend-pushed audio goes straight to the playback queue.
	session.SubscribeBinary(playback.Enqueue)

	capture.SetAutoStopHandler(func(st Status) {
		c.log.Warn("Capture stopped: connection lost")
		c.store.AddLogEntry("capture", "capture stopped automatically", map[string]interface{}{
			"connected":  st.Connected,
			"registered": st.Registered,
		})
	})

	return c, nil
}

// Connect starts the session's connect/reconnect loop.
func (c *Client) Connect() error {
	return c.session.Connect()
}

// Disconnect shuts the session down permanently and releases the
// microphone if capture is running.
func (c *Client) Disconnect() {
	c.capture.Stop()
	c.session.Disconnect()
}

// StartCapture begins microphone streaming. The stored input device
// choice applies unless the audio config already names one.
func (c *Client) StartCapture() error {
	if c.audioCfg.InputDeviceID == nil {
		if settings, err := c.store.LoadSettings(); err == nil && settings.InputDeviceID != nil {
			c.audioCfg.InputDeviceID = settings.InputDeviceID
		}
	}
	return c.capture.Start()
}

// StopCapture stops microphone streaming. Safe to call when idle.
func (c *Client) StopCapture() {
	c.capture.Stop()
}

// SendText forwards an application text frame to the backend.
func (c *Client) SendText(text string) error {
	return c.session.SendText(text)
}

// Status returns the current {connected, registered} snapshot.
func (c *Client) Status() Status {
	return c.session.Status()
}

// OnStatus subscribes to status transitions.
func (c *Client) OnStatus(h StatusHandler) func() {
	return c.session.SubscribeStatus(h)
}

// OnMessage subscribes to non-protocol text frames.
func (c *Client) OnMessage(h MessageHandler) func() {
	return c.session.SubscribeMessages(h)
}

// OnPlaying subscribes to playback-state changes.
func (c *Client) OnPlaying(h PlayingHandler) func() {
	return c.playback.SubscribePlaying(h)
}

// IsPlaying reports whether backend audio is playing.
func (c *Client) IsPlaying() bool {
	return c.playback.IsPlaying()
}

// IsCapturing reports whether the microphone is streaming.
func (c *Client) IsCapturing() bool {
	return c.capture.Active()
}

// IsAudioActive reports the voice activity flag for UI binding.
func (c *Client) IsAudioActive() bool {
	return c.capture.VoiceActive()
}

// AudioLevel reports the most recent input RMS level.
func (c *Client) AudioLevel() float64 {
	return c.capture.Level()
}

// Store exposes the persistence collaborator.
func (c *Client) Store() *FileStore {
	return c.store
}

// Session exposes the underlying connection session.
func (c *Client) Session() *Session {
	return c.session
}

// WaitRegistered blocks until the session reports registered or the
// timeout elapses. Convenience for CLI and examples.
func (c *Client) WaitRegistered(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.session.Status().Registered {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return c.session.Status().Registered
}
