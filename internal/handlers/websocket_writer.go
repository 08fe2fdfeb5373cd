package handlers

import (
	"strings"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor/levels"
	"github.com/ternarybob/arbor/models"
	"github.com/ternarybob/arbor/writers"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/interfaces"
)

const (
	// Default buffer size for WebSocket log queue
	defaultWebSocketBufferSize = 1000
)

// WebSocketWriter is an arbor writer that broadcasts logs to WebSocket clients
type WebSocketWriter struct {
	handler         *WebSocketHandler
	writer          writers.IChannelWriter
	config          models.WriterConfiguration
	minLevel        levels.LogLevel
	excludePatterns []string
}

// NewWebSocketWriter creates a new WebSocket arbor writer using ChannelWriter pattern
func NewWebSocketWriter(handler *WebSocketHandler, config models.WriterConfiguration, wsConfig *common.WebSocketConfig) (*WebSocketWriter, error) {
	minLevel := levels.InfoLevel
	excludePatterns := internalLogPatterns

	if wsConfig != nil {
		minLevel = parseLogLevel(wsConfig.MinLevel)
		if len(wsConfig.ExcludePatterns) > 0 {
			excludePatterns = wsConfig.ExcludePatterns
		}
	}

	w := &WebSocketWriter{
		handler:         handler,
		config:          config,
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
	}

	// Processor filters entries and pushes survivors to connected clients
	processor := func(entry models.LogEvent) error {
		arborLevel := plogToArborLevel(entry.Level)
		if arborLevel < w.minLevel {
			return nil
		}

		for _, pattern := range w.excludePatterns {
			if strings.Contains(entry.Message, pattern) {
				return nil
			}
		}

		w.handler.BroadcastLog(interfaces.LogEntry{
			Timestamp: entry.Timestamp.Format("15:04:05"),
			Level:     levelString(arborLevel),
			Message:   entry.Message,
		})
		return nil
	}

	cw, err := writers.NewChannelWriter(config, defaultWebSocketBufferSize, processor)
	if err != nil {
		return nil, err
	}
	cw.Start()

	w.writer = cw
	return w, nil
}

// plogToArborLevel converts phuslu/log.Level to arbor levels.LogLevel
func plogToArborLevel(level plog.Level) levels.LogLevel {
	switch level {
	case plog.ErrorLevel:
		return levels.ErrorLevel
	case plog.WarnLevel:
		return levels.WarnLevel
	case plog.InfoLevel:
		return levels.InfoLevel
	case plog.DebugLevel:
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// parseLogLevel converts string log level to arbor levels.LogLevel
func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "info":
		return levels.InfoLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// levelString maps arbor log levels to UI strings
func levelString(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.InfoLevel:
		return "info"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}

// Write implements the IWriter interface - delegates to the channel writer
func (w *WebSocketWriter) Write(data []byte) (int, error) {
	return w.writer.Write(data)
}

// WithLevel updates the minimum log level and returns self
func (w *WebSocketWriter) WithLevel(level plog.Level) writers.IWriter {
	w.minLevel = plogToArborLevel(level)
	return w
}

// GetFilePath returns empty string (not file-based)
func (w *WebSocketWriter) GetFilePath() string {
	return ""
}

// Close performs graceful shutdown with buffer draining
func (w *WebSocketWriter) Close() error {
	return w.writer.Close()
}
