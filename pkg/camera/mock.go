package camera

import (
	"errors"
	"sync"
)

// MockSource is a FrameSource for tests. It returns Frame on every read.
type MockSource struct {
	mu     sync.Mutex
	Frame  []byte
	OpenFn func(Config) error
	ReadFn func() ([]byte, error)

	opens, closes, reads int
	open                 bool
}

// NewMockSource creates a mock that yields frame.
func NewMockSource(frame []byte) *MockSource {
	return &MockSource{Frame: frame}
}

func (m *MockSource) Open(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.OpenFn != nil {
		if err := m.OpenFn(cfg); err != nil {
			return err
		}
	}
	m.open = true
	return nil
}

func (m *MockSource) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if !m.open {
		return nil, errors.New("mock: device not open")
	}
	if m.ReadFn != nil {
		return m.ReadFn()
	}
	return m.Frame, nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.open = false
	return nil
}

// Counts returns how many times each method was called.
func (m *MockSource) Counts() (opens, reads, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.reads, m.closes
}
