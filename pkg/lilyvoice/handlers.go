package lilyvoice

import "time"

// Factory functions for common message consumers. These sit outside the
// core: they observe the session's streams but never affect its control
// flow.

// NewLoggingMessageHandler returns a handler that logs every application
// message it sees.
func NewLoggingMessageHandler(logger *Logger) MessageHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	l := logger.WithComponent("Messages")
	return func(text string) {
		l.WithField("length", len(text)).Info(text)
	}
}

// NewStatusLogHandler returns a status listener that records every
// transition in the store's log.
func NewStatusLogHandler(store *FileStore, logger *Logger) StatusHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	l := logger.WithComponent("Status")
	return func(st Status) {
		l.Infof("Connection status: connected=%t registered=%t", st.Connected, st.Registered)
		if store != nil {
			store.AddLogEntry("connection", "status changed", map[string]interface{}{
				"connected":  st.Connected,
				"registered": st.Registered,
			})
		}
	}
}

// NewChatRecorder returns a message handler that appends each inbound
// application message to the stored chat history as an assistant turn.
func NewChatRecorder(store *FileStore, logger *Logger) MessageHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	l := logger.WithComponent("ChatRecorder")
	return func(text string) {
		history, err := store.LoadChatHistory()
		if err != nil {
			l.WithError(err).Warn("Failed to load chat history")
			return
		}
		history = append(history, ChatMessage{
			Role:      "assistant",
			Content:   text,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		if err := store.SaveChatHistory(history); err != nil {
			l.WithError(err).Warn("Failed to save chat history")
		}
	}
}
