package persistence

import (
	"context"
	"sync"
)

type nsKey struct {
	namespace, key string
}

// Memory is an in-process, mutex-guarded reference implementation of
// Adapter. It has no durability across restarts; it exists for tests and
// for running the core without a real storage backend wired in.
type Memory struct {
	mu       sync.RWMutex
	blobs    map[nsKey][]byte
	settings map[nsKey]string
	multi    map[nsKey]map[string]struct{}
	logs     map[string][]string
	chatLogs map[string][]string
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		blobs:    make(map[nsKey][]byte),
		settings: make(map[nsKey]string),
		multi:    make(map[nsKey]map[string]struct{}),
		logs:     make(map[string][]string),
		chatLogs: make(map[string][]string),
	}
}

func (m *Memory) GetBinary(_ context.Context, namespace, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.blobs[nsKey{namespace, key}]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) SaveBinary(_ context.Context, namespace, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[nsKey{namespace, key}] = cp
	return nil
}

func (m *Memory) DeleteBinary(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, nsKey{namespace, key})
	return nil
}

func (m *Memory) GetSetting(_ context.Context, namespace, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[nsKey{namespace, key}]
	return v, ok, nil
}

func (m *Memory) SetSetting(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[nsKey{namespace, key}] = value
	return nil
}

func (m *Memory) DeleteSetting(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.settings, nsKey{namespace, key})
	return nil
}

func (m *Memory) InsertValue(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := nsKey{namespace, key}
	set, ok := m.multi[k]
	if !ok {
		set = make(map[string]struct{})
		m.multi[k] = set
	}
	set[value] = struct{}{}
	return nil
}

func (m *Memory) DeleteValue(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.multi[nsKey{namespace, key}]; ok {
		delete(set, value)
	}
	return nil
}

func (m *Memory) GetValues(_ context.Context, namespace, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.multi[nsKey{namespace, key}]
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) WriteLog(_ context.Context, sink, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[sink] = append(m.logs[sink], line)
	return nil
}

func (m *Memory) WriteChatLog(_ context.Context, channel, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatLogs[channel] = append(m.chatLogs[channel], line)
	return nil
}

// Log returns a copy of every line written to sink, for test assertions.
func (m *Memory) Log(sink string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.logs[sink]...)
}

// ChatLog returns a copy of every line written to channel, for test
// assertions.
func (m *Memory) ChatLog(channel string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.chatLogs[channel]...)
}

var _ Adapter = (*Memory)(nil)
