package interfaces

// LogEntry is the UI-facing shape of one service log line
type LogEntry struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}
