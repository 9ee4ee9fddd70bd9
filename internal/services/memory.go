package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryKV is a non-persistent KVStore, the Go analogue of the original's
// DashMap-backed MemoryBackend (daemon/services/kv/memory.rs): fast,
// concurrent, and gone on process exit. Useful for dev/test wiring and as
// the default backend when no external KV is configured.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memoryKVEntry
}

type memoryKVEntry struct {
	value     []byte
	expiresAt time.Time // zero value means no expiry
}

func (e memoryKVEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// NewMemoryKV constructs an empty in-memory KV store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memoryKVEntry)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || e.expired() {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = memoryKVEntry{value: value, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k, e := range m.entries {
		if e.expired() {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryKV) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// MemoryObjectStore is a non-persistent ObjectStore, analogous to the
// original's filesystem backend (daemon/services/storage/filesystem.rs)
// but held in memory for dev/test use.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data []byte
	meta ObjectMeta
}

// NewMemoryObjectStore constructs an empty in-memory object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryObjectStore) Put(_ context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = memoryObject{
		data: data,
		meta: ObjectMeta{Path: path, ContentType: contentType, Size: int64(len(data)), ModTime: time.Now()},
	}
	return nil
}

func (s *MemoryObjectStore) Get(_ context.Context, path string) ([]byte, ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, ObjectMeta{}, fmt.Errorf("object not found: %s", path)
	}
	return obj.data, obj.meta, nil
}

func (s *MemoryObjectStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *MemoryObjectStore) Head(_ context.Context, path string) (ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return ObjectMeta{}, fmt.Errorf("object not found: %s", path)
	}
	return obj.meta, nil
}

func (s *MemoryObjectStore) List(_ context.Context, prefix string) ([]ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ObjectMeta
	for p, obj := range s.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, obj.meta)
		}
	}
	return out, nil
}

// MemoryQueue is a non-persistent Queue, analogous to the original's
// QueueService minus its redb persistence layer: FIFO queues plus a
// fan-out pub/sub layer over channels standing in for tokio::sync::broadcast.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string][]QueueMessage
	subs   map[string][]chan QueueMessage
	nextID uint64
}

// NewMemoryQueue constructs an empty in-memory queue service.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queues: make(map[string][]QueueMessage), subs: make(map[string][]chan QueueMessage)}
}

func (q *MemoryQueue) Push(_ context.Context, queueName string, body []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	msg := QueueMessage{ID: fmt.Sprintf("%d", q.nextID), Body: body, EnqueuedAt: time.Now()}
	q.queues[queueName] = append(q.queues[queueName], msg)
	return msg.ID, nil
}

func (q *MemoryQueue) Pop(_ context.Context, queueName string) (*QueueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.queues[queueName]
	if len(msgs) == 0 {
		return nil, nil
	}
	msg := msgs[0]
	q.queues[queueName] = msgs[1:]
	return &msg, nil
}

func (q *MemoryQueue) Peek(_ context.Context, queueName string) (*QueueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.queues[queueName]
	if len(msgs) == 0 {
		return nil, nil
	}
	msg := msgs[0]
	return &msg, nil
}

func (q *MemoryQueue) Len(_ context.Context, queueName string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queueName]), nil
}

func (q *MemoryQueue) Clear(_ context.Context, queueName string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.queues[queueName])
	delete(q.queues, queueName)
	return n, nil
}

func (q *MemoryQueue) DeleteQueue(_ context.Context, queueName string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, existed := q.queues[queueName]
	delete(q.queues, queueName)
	return existed, nil
}

func (q *MemoryQueue) ListQueues(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.queues))
	for name := range q.queues {
		names = append(names, name)
	}
	return names, nil
}

func (q *MemoryQueue) Publish(_ context.Context, topic string, body []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	msg := QueueMessage{ID: fmt.Sprintf("%d", q.nextID), Body: body, EnqueuedAt: time.Now()}
	delivered := 0
	for _, ch := range q.subs[topic] {
		select {
		case ch <- msg:
			delivered++
		default:
		}
	}
	return delivered, nil
}

func (q *MemoryQueue) Subscribe(_ context.Context, topic string) (<-chan QueueMessage, func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan QueueMessage, 16)
	q.subs[topic] = append(q.subs[topic], ch)

	cancel := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		subs := q.subs[topic]
		for i, c := range subs {
			if c == ch {
				q.subs[topic] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel, nil
}
