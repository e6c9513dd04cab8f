package exporter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mock types ---

type MockExporter struct {
	mock.Mock
}

func (m *MockExporter) Provider() Provider {
	args := m.Called()
	return args.Get(0).(Provider)
}

func (m *MockExporter) Check(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockExporter) Export(ctx context.Context, req *Request) (*Response, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*Response); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockExporter) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Tests ---

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	mockExporter := new(MockExporter)
	mockExporter.On("Provider").Return(ProviderUltralytics)

	require.NoError(t, reg.Register(mockExporter))

	got, err := reg.Get(ProviderUltralytics)
	require.NoError(t, err)
	assert.Equal(t, mockExporter, got)

	// Ensure a missing exporter returns ErrNotFound
	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []Provider{ProviderUltralytics}, reg.Providers())

	mockExporter.AssertExpectations(t)
}

func TestRegistry_RegisterTwice(t *testing.T) {
	reg := NewRegistry()

	e1 := new(MockExporter)
	e2 := new(MockExporter)
	e1.On("Provider").Return(ProviderUltralytics)
	e2.On("Provider").Return(ProviderUltralytics)

	require.NoError(t, reg.Register(e1))
	err := reg.Register(e2)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	got, err := reg.Get(ProviderUltralytics)
	require.NoError(t, err)
	assert.Same(t, e1, got)
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry()

	e1 := new(MockExporter)
	e2 := new(MockExporter)
	e1.On("Provider").Return(Provider("e1"))
	e2.On("Provider").Return(Provider("e2"))

	e1.On("Close").Return(nil).Once()
	e2.On("Close").Return(nil).Once()

	require.NoError(t, reg.Register(e1))
	require.NoError(t, reg.Register(e2))

	assert.NoError(t, reg.Close())

	e1.AssertExpectations(t)
	e2.AssertExpectations(t)
}

func TestRegistry_CloseErrorPropagation(t *testing.T) {
	reg := NewRegistry()

	e1 := new(MockExporter)
	e2 := new(MockExporter)

	e1.On("Provider").Return(Provider("e1"))
	e2.On("Provider").Return(Provider("e2"))

	e1.On("Close").Return(errors.New("close failed")).Once()
	e2.On("Close").Return(nil).Once()

	require.NoError(t, reg.Register(e1))
	require.NoError(t, reg.Register(e2))

	err := reg.Close()
	assert.EqualError(t, err, "close failed")

	// every exporter is closed even when one fails
	e1.AssertExpectations(t)
	e2.AssertExpectations(t)
}
