// Package testutils holds test doubles and assertion helpers shared by the
// package tests: a scriptable device.Adapter, a GATT profile builder, and
// text/JSON asserters with readable diffs.
package testutils

import (
	"bytes"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// LogBuffer is a goroutine-safe sink for captured log output.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CaptureLogger returns a logger that writes plain text entries into the returned buffer.
func CaptureLogger(level logrus.Level) (*logrus.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return logger, buf
}
