package lilyvoice

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the session-level settings: endpoint, identity, and every
// timer of the connection state machine.
type Config struct {
	Endpoint                  string        `json:"endpoint"`
	ClientID                  string        `json:"client_id"`
	HeartbeatInterval         time.Duration `json:"heartbeat_interval"`
	ReconnectDelay            time.Duration `json:"reconnect_delay"`
	RegistrationRetryInterval time.Duration `json:"registration_retry_interval"`
	RegistrationMaxAttempts   int           `json:"registration_max_attempts"`
	Debug                     bool          `json:"debug"`
}

func NewConfig() *Config {
	c := &Config{
		Endpoint:                  "ws://localhost:9002",
		ClientID:                  "default_user",
		HeartbeatInterval:         30 * time.Second,
		ReconnectDelay:            3 * time.Second,
		RegistrationRetryInterval: 2 * time.Second,
		RegistrationMaxAttempts:   10,
	}
	c.loadFromEnv()
	return c
}

func (c *Config) loadFromEnv() {
	// Load .env if exists
	_ = godotenv.Load()

	if endpoint := os.Getenv("LILY_WS_ENDPOINT"); endpoint != "" {
		c.Endpoint = endpoint
	}
	if clientID := os.Getenv("LILY_CLIENT_ID"); clientID != "" {
		c.ClientID = clientID
	}
	if d, ok := envDuration("LILY_HEARTBEAT_INTERVAL"); ok {
		c.HeartbeatInterval = d
	}
	if d, ok := envDuration("LILY_RECONNECT_DELAY"); ok {
		c.ReconnectDelay = d
	}
	if d, ok := envDuration("LILY_REGISTRATION_RETRY_INTERVAL"); ok {
		c.RegistrationRetryInterval = d
	}
	if attempts := os.Getenv("LILY_REGISTRATION_MAX_ATTEMPTS"); attempts != "" {
		if val, err := strconv.Atoi(attempts); err == nil {
			c.RegistrationMaxAttempts = val
		}
	}
	c.Debug = os.Getenv("LILY_DEBUG") == "true"
}

// Validate returns list of issues
func (c *Config) Validate() []string {
	issues := []string{}

	if !strings.HasPrefix(c.Endpoint, "ws://") && !strings.HasPrefix(c.Endpoint, "wss://") {
		issues = append(issues, fmt.Sprintf("invalid websocket endpoint: %s", c.Endpoint))
	}
	if c.ClientID == "" {
		issues = append(issues, "client id must not be empty")
	}
	if c.HeartbeatInterval <= 0 {
		issues = append(issues, "heartbeat interval must be positive")
	}
	if c.ReconnectDelay <= 0 {
		issues = append(issues, "reconnect delay must be positive")
	}
	if c.RegistrationRetryInterval <= 0 {
		issues = append(issues, "registration retry interval must be positive")
	}
	if c.RegistrationMaxAttempts < 0 {
		issues = append(issues, "registration max attempts must not be negative")
	}

	return issues
}

// AudioConfig holds capture and playback settings.
type AudioConfig struct {
	SampleRate                int           `json:"sample_rate"`
	Channels                  int           `json:"channels"`
	FramesPerBuffer           int           `json:"frames_per_buffer"`
	ChunkInterval             time.Duration `json:"chunk_interval"`
	ConnectivityCheckInterval time.Duration `json:"connectivity_check_interval"`
	ActivityThreshold         float64       `json:"activity_threshold"`
	ActivityHold              time.Duration `json:"activity_hold"`
	InputDeviceID             *int          `json:"input_device_id,omitempty"`
}

func NewAudioConfig() *AudioConfig {
	c := &AudioConfig{
		SampleRate:                24000,
		Channels:                  1,
		FramesPerBuffer:           1024,
		ChunkInterval:             time.Second,
		ConnectivityCheckInterval: 5 * time.Second,
		ActivityThreshold:         0.02,
		ActivityHold:              500 * time.Millisecond,
	}
	c.loadFromEnv()
	return c
}

func (c *AudioConfig) loadFromEnv() {
	_ = godotenv.Load()

	if rate := os.Getenv("LILY_SAMPLE_RATE"); rate != "" {
		if val, err := strconv.Atoi(rate); err == nil {
			c.SampleRate = val
		}
	}
	if d, ok := envDuration("LILY_CHUNK_INTERVAL"); ok {
		c.ChunkInterval = d
	}
	if d, ok := envDuration("LILY_CONNECTIVITY_CHECK_INTERVAL"); ok {
		c.ConnectivityCheckInterval = d
	}
	if threshold := os.Getenv("LILY_ACTIVITY_THRESHOLD"); threshold != "" {
		if val, err := strconv.ParseFloat(threshold, 64); err == nil {
			c.ActivityThreshold = val
		}
	}
	if d, ok := envDuration("LILY_ACTIVITY_HOLD"); ok {
		c.ActivityHold = d
	}
	if deviceIDStr := os.Getenv("LILY_AUDIO_DEVICE_ID"); deviceIDStr != "" {
		if deviceID, err := strconv.Atoi(deviceIDStr); err == nil {
			c.InputDeviceID = &deviceID
		}
	}
}

func (c *AudioConfig) Validate() []string {
	issues := []string{}

	if c.SampleRate <= 0 {
		issues = append(issues, "sample rate must be positive")
	}
	if c.Channels <= 0 {
		issues = append(issues, "channel count must be positive")
	}
	if c.FramesPerBuffer <= 0 {
		issues = append(issues, "frames per buffer must be positive")
	}
	if c.ChunkInterval <= 0 {
		issues = append(issues, "chunk interval must be positive")
	}
	if c.ConnectivityCheckInterval <= 0 {
		issues = append(issues, "connectivity check interval must be positive")
	}
	if c.ActivityThreshold < 0 || c.ActivityThreshold > 1 {
		issues = append(issues, fmt.Sprintf("activity threshold out of range: %f", c.ActivityThreshold))
	}

	return issues
}

func envDuration(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, true
	}
	// Plain numbers are read as seconds, matching the original deployment's
	// configuration files.
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}
