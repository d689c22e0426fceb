package command

import (
	"context"

	"github.com/INLOpen/chaindb/engine"
	"github.com/INLOpen/chaindb/hooks"
	"github.com/stretchr/testify/mock"
)

// MockStorageEngine is a mock implementation of engine.StorageEngineInterface.
type MockStorageEngine struct {
	mock.Mock
}

var _ engine.StorageEngineInterface = (*MockStorageEngine)(nil)

func (m *MockStorageEngine) Set(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockStorageEngine) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockStorageEngine) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorageEngine) ForceFlush(ctx context.Context, wait bool) error {
	args := m.Called(ctx, wait)
	return args.Error(0)
}

func (m *MockStorageEngine) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStorageEngine) Stats() engine.Stats {
	args := m.Called()
	return args.Get(0).(engine.Stats)
}

func (m *MockStorageEngine) Metrics() *engine.EngineMetrics {
	return nil
}

func (m *MockStorageEngine) GetHookManager() hooks.HookManager {
	return nil
}

func (m *MockStorageEngine) GetDataDir() string {
	return ""
}
