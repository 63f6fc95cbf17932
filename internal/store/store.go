// Package store defines the namespaced key/value gateway that holds every
// persisted record, plus an in-memory implementation.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrEmptyKey = errors.New("store: empty key")

// Gateway is the persistence boundary. Enumerate returns keys in ascending
// order. Commit applies a batch all or nothing.
type Gateway interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Enumerate(ctx context.Context, prefix string) ([]string, error)
	Commit(ctx context.Context, b *Batch) error
}

type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

type Op struct {
	Kind  OpKind
	Key   string
	Value []byte
}

// Batch collects writes for Commit. Later ops on the same key win.
type Batch struct {
	ops []Op
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) Put(key string, value []byte) *Batch {
	b.ops = append(b.ops, Op{Kind: OpPut, Key: key, Value: append([]byte(nil), value...)})
	return b
}

func (b *Batch) Delete(key string) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDelete, Key: key})
	return b
}

func (b *Batch) Ops() []Op {
	if b == nil {
		return nil
	}
	return append([]Op(nil), b.ops...)
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

func (b *Batch) validate() error {
	for _, op := range b.ops {
		if strings.TrimSpace(op.Key) == "" {
			return ErrEmptyKey
		}
	}
	return nil
}

// Validate reports a batch that no backend would accept.
func (b *Batch) Validate() error {
	if b == nil {
		return nil
	}
	return b.validate()
}

type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	return m.Commit(ctx, NewBatch().Put(key, value))
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	return m.Commit(ctx, NewBatch().Delete(key))
}

func (m *Memory) Enumerate(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Commit(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range b.Ops() {
		switch op.Kind {
		case OpPut:
			m.data[op.Key] = op.Value
		case OpDelete:
			delete(m.data, op.Key)
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
