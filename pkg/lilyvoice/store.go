package lilyvoice

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TTSParameters mirror the synthesis settings the backend accepts.
type TTSParameters struct {
	Speaker    int    `json:"speaker"`
	SampleRate int    `json:"sample_rate"`
	Model      string `json:"model"`
	Lang       string `json:"lang"`
}

// Settings are the user-chosen values persisted between runs. They are
// read at capture-start time only and never consulted by the state
// machine.
type Settings struct {
	InputDeviceID *int          `json:"input_device_id,omitempty"`
	TTSParams     TTSParameters `json:"tts_params"`
	TTSEnabled    bool          `json:"tts_enabled"`
}

func DefaultSettings() Settings {
	return Settings{
		TTSParams: TTSParameters{
			Speaker:    0,
			SampleRate: 24000,
			Model:      "edge",
			Lang:       "en-US",
		},
		TTSEnabled: false,
	}
}

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// LogEntry is one fire-and-forget notification from the logging
// collaborator interface.
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

const (
	settingsFile = "settings.json"
	historyFile  = "chat_history.json"
	logsFile     = "logs.json"
)

// FileStore persists settings, chat history and log entries as JSON files
// under a single data directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a store rooted at dir; an empty dir resolves to the
// user config directory.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, WrapError(err, ErrCodeStorage)
		}
		dir = filepath.Join(base, "NsTut", "LilyUI")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, WrapError(err, ErrCodeStorage)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the resolved data directory.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// SaveSettings writes the settings file.
func (fs *FileStore) SaveSettings(settings Settings) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeJSON(settingsFile, settings)
}

// LoadSettings reads the settings file, returning defaults when it does
// not exist yet.
func (fs *FileStore) LoadSettings() (Settings, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	settings := DefaultSettings()
	err := fs.readJSON(settingsFile, &settings)
	if os.IsNotExist(err) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return DefaultSettings(), WrapError(err, ErrCodeStorage)
	}
	return settings, nil
}

// SaveChatHistory replaces the stored conversation history.
func (fs *FileStore) SaveChatHistory(messages []ChatMessage) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeJSON(historyFile, messages)
}

// LoadChatHistory reads the stored conversation history; an absent file is
// an empty history.
func (fs *FileStore) LoadChatHistory() ([]ChatMessage, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var messages []ChatMessage
	err := fs.readJSON(historyFile, &messages)
	if os.IsNotExist(err) {
		return []ChatMessage{}, nil
	}
	if err != nil {
		return nil, WrapError(err, ErrCodeStorage)
	}
	return messages, nil
}

// ClearChatHistory removes the stored conversation history.
func (fs *FileStore) ClearChatHistory() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.remove(historyFile)
}

// AddLogEntry appends one entry to the log file.
func (fs *FileStore) AddLogEntry(entryType, message string, details map[string]interface{}) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var entries []LogEntry
	if err := fs.readJSON(logsFile, &entries); err != nil && !os.IsNotExist(err) {
		return WrapError(err, ErrCodeStorage)
	}

	entries = append(entries, LogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      entryType,
		Message:   message,
		Details:   details,
	})
	return fs.writeJSON(logsFile, entries)
}

// Logs returns all stored log entries.
func (fs *FileStore) Logs() ([]LogEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var entries []LogEntry
	err := fs.readJSON(logsFile, &entries)
	if os.IsNotExist(err) {
		return []LogEntry{}, nil
	}
	if err != nil {
		return nil, WrapError(err, ErrCodeStorage)
	}
	return entries, nil
}

// ClearLogs removes all stored log entries.
func (fs *FileStore) ClearLogs() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.remove(logsFile)
}

func (fs *FileStore) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return WrapError(err, ErrCodeStorage)
	}
	if err := os.WriteFile(filepath.Join(fs.dir, name), data, 0o644); err != nil {
		return WrapError(err, ErrCodeStorage)
	}
	return nil
}

func (fs *FileStore) readJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(fs.dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (fs *FileStore) remove(name string) error {
	err := os.Remove(filepath.Join(fs.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return WrapError(err, ErrCodeStorage)
	}
	return nil
}
