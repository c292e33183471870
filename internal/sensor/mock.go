package sensor

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// MockPort implements Porter over a fixed script of frame lines. It is used
// by tests and by the capture command's dry-run mode.
type MockPort struct {
	r io.Reader

	mu     sync.Mutex
	closed bool
}

// NewMockPort returns a port that replays the given frames as one JSON line
// each, then reports EOF.
func NewMockPort(frames ...Frame) *MockPort {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, f := range frames {
		enc.Encode(f)
	}
	return &MockPort{r: &buf}
}

// NewMockPortRaw returns a port that replays raw bytes verbatim, for
// exercising malformed input.
func NewMockPortRaw(data []byte) *MockPort {
	return &MockPort{r: bytes.NewReader(data)}
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.EOF
	}
	m.mu.Unlock()
	return m.r.Read(p)
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
