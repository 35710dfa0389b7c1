package logger

// NewNoopLogger returns a logger that discards everything. Intended for tests.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

type noopLogger struct{}

func (l *noopLogger) Debug(msg string) {}
func (l *noopLogger) Info(msg string)  {}
func (l *noopLogger) Warn(msg string)  {}
func (l *noopLogger) Error(msg string) {}
func (l *noopLogger) Fatal(msg string) {}

func (l *noopLogger) WithField(key string, value interface{}) Logger { return l }

func (l *noopLogger) WithFields(fields map[string]interface{}) Logger { return l }
