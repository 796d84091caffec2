package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/election-ceremony-console/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockStore implements interfaces.KVStore for testing
type MockStore struct {
	mock.Mock
	name string
}

func (m *MockStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, key string, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStore) Name() string {
	return m.name
}

func (m *MockStore) LocationURI() string {
	return "mock:"
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMultiStore_Available(t *testing.T) {
	tests := []struct {
		name     string
		stores   []bool
		expected bool
	}{
		{
			name:     "all stores available",
			stores:   []bool{true, true, true},
			expected: true,
		},
		{
			name:     "some stores available",
			stores:   []bool{false, true, false},
			expected: true,
		},
		{
			name:     "no stores available",
			stores:   []bool{false, false, false},
			expected: false,
		},
		{
			name:     "no stores",
			stores:   []bool{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stores []interfaces.KVStore
			for i, available := range tt.stores {
				mockStore := &MockStore{name: fmt.Sprintf("mock-A%x", i)}
				mockStore.On("Available", mock.Anything).Return(available).Maybe()
				stores = append(stores, mockStore)
			}

			multi := NewMultiStore(stores, testLogger())
			assert.Equal(t, tt.expected, multi.Available(context.Background()))

			for _, store := range stores {
				store.(*MockStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStore_Get(t *testing.T) {
	testData := []byte(`{"title":"election"}`)
	testErr := errors.New("test error")
	key := interfaces.ElectionKey

	tests := []struct {
		name         string
		setupMocks   func() []interfaces.KVStore
		expectedData []byte
		expectedErr  error
	}{
		{
			name: "first store successful",
			setupMocks: func() []interfaces.KVStore {
				mock1 := &MockStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, key).Return(testData, nil)

				// Not consulted once the first store answers
				mock2 := &MockStore{name: "mock-B"}

				return []interfaces.KVStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first store fails, second succeeds",
			setupMocks: func() []interfaces.KVStore {
				mock1 := &MockStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, key).Return(nil, testErr)

				mock2 := &MockStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Get", mock.Anything, key).Return(testData, nil)

				return []interfaces.KVStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first store misses the key, second has it",
			setupMocks: func() []interfaces.KVStore {
				mock1 := &MockStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, key).Return(nil, interfaces.ErrKeyNotFound)

				mock2 := &MockStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Get", mock.Anything, key).Return(testData, nil)

				return []interfaces.KVStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "key missing everywhere",
			setupMocks: func() []interfaces.KVStore {
				mock1 := &MockStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, key).Return(nil, interfaces.ErrKeyNotFound)

				mock2 := &MockStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(false)

				return []interfaces.KVStore{mock1, mock2}
			},
			expectedErr: interfaces.ErrKeyNotFound,
		},
		{
			name: "all stores fail",
			setupMocks: func() []interfaces.KVStore {
				mock1 := &MockStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Get", mock.Anything, key).Return(nil, testErr)

				mock2 := &MockStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Get", mock.Anything, key).Return(nil, interfaces.ErrKeyNotFound)

				return []interfaces.KVStore{mock1, mock2}
			},
			expectedErr: interfaces.ErrBackendUnavailable,
		},
		{
			name: "no store available",
			setupMocks: func() []interfaces.KVStore {
				mock1 := &MockStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)
				return []interfaces.KVStore{mock1}
			},
			expectedErr: interfaces.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stores := tt.setupMocks()
			multi := NewMultiStore(stores, testLogger())

			data, err := multi.Get(context.Background(), key)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, store := range stores {
				store.(*MockStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStore_Put(t *testing.T) {
	testData := []byte(`{"title":"election"}`)
	testErr := errors.New("test error")
	key := interfaces.ElectionKey

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.KVStore
		expectedError bool
	}{
		{
			name: "all stores successful",
			setupMocks: func() []interfaces.KVStore {
				mock1 := &MockStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Put", mock.Anything, key, testData).Return(nil)

				mock2 := &MockStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Put", mock.Anything, key, testData).Return(nil)

				return []interfaces.KVStore{mock1, mock2}
			},
		},
		{
			name: "some stores fail",
			setupMocks: func() []interfaces.KVStore {
				mock1 := &MockStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Put", mock.Anything, key, testData).Return(nil)

				mock2 := &MockStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Put", mock.Anything, key, testData).Return(testErr)

				return []interfaces.KVStore{mock1, mock2}
			},
		},
		{
			name: "all stores fail",
			setupMocks: func() []interfaces.KVStore {
				mock1 := &MockStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Put", mock.Anything, key, testData).Return(testErr)

				mock2 := &MockStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Put", mock.Anything, key, testData).Return(testErr)

				return []interfaces.KVStore{mock1, mock2}
			},
			expectedError: true,
		},
		{
			name: "unavailable stores are skipped",
			setupMocks: func() []interfaces.KVStore {
				mock1 := &MockStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Put", mock.Anything, key, testData).Return(nil)

				return []interfaces.KVStore{mock1, mock2}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stores := tt.setupMocks()
			multi := NewMultiStore(stores, testLogger())

			err := multi.Put(context.Background(), key, testData)

			if tt.expectedError {
				assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
			} else {
				assert.NoError(t, err)
			}

			for _, store := range stores {
				store.(*MockStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStore_Delete(t *testing.T) {
	mock1 := &MockStore{name: "mock-A"}
	mock1.On("Available", mock.Anything).Return(true)
	mock1.On("Delete", mock.Anything, interfaces.ElectionKey).Return(nil)

	mock2 := &MockStore{name: "mock-B"}
	mock2.On("Available", mock.Anything).Return(true)
	mock2.On("Delete", mock.Anything, interfaces.ElectionKey).Return(nil)

	multi := NewMultiStore([]interfaces.KVStore{mock1, mock2}, testLogger())
	assert.NoError(t, multi.Delete(context.Background(), interfaces.ElectionKey))
	mock1.AssertExpectations(t)
	mock2.AssertExpectations(t)
}

func TestMultiStore_RealStores(t *testing.T) {
	a := NewMemoryStore("a")
	b := NewMemoryStore("b")
	multi := NewMultiStore([]interfaces.KVStore{a, b}, testLogger())
	ctx := context.Background()

	assert.NoError(t, multi.Put(ctx, "election", []byte("v1")))
	for _, store := range []*MemoryStore{a, b} {
		value, err := store.Get(ctx, "election")
		assert.NoError(t, err)
		assert.Equal(t, []byte("v1"), value)
	}

	assert.NoError(t, multi.Delete(ctx, "election"))
	_, err := multi.Get(ctx, "election")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	assert.ErrorIs(t, multi.Put(ctx, "../escape", []byte("x")), ErrInvalidKey)
	assert.Equal(t, "multi:[memory://a,memory://b]", multi.LocationURI())
}
