package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mock types ---

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Provider() Provider {
	args := m.Called()
	return args.Get(0).(Provider)
}

func (m *MockBackend) Compile(ctx context.Context, req *CompileRequest) (*Artifacts, error) {
	args := m.Called(ctx, req)
	if a, ok := args.Get(0).(*Artifacts); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Load(ctx context.Context, req *LoadRequest) (Module, error) {
	args := m.Called(ctx, req)
	if mod, ok := args.Get(0).(Module); ok {
		return mod, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Tests ---

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	mockBackend := new(MockBackend)
	mockBackend.On("Provider").Return(ProviderTVMC)

	require.NoError(t, reg.Register(mockBackend))

	got, err := reg.Get(ProviderTVMC)
	assert.NoError(t, err)
	assert.Equal(t, mockBackend, got)

	// Ensure a missing backend is reported
	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []Provider{ProviderTVMC}, reg.Providers())

	mockBackend.AssertExpectations(t)
}

func TestRegistry_RegisterTwice(t *testing.T) {
	reg := NewRegistry()

	b1 := new(MockBackend)
	b2 := new(MockBackend)
	b1.On("Provider").Return(ProviderTVMC)
	b2.On("Provider").Return(ProviderTVMC)

	require.NoError(t, reg.Register(b1))
	assert.ErrorIs(t, reg.Register(b2), ErrAlreadyRegistered)

	got, err := reg.Get(ProviderTVMC)
	require.NoError(t, err)
	assert.Same(t, b1, got)
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry()

	b1 := new(MockBackend)
	b2 := new(MockBackend)
	b1.On("Provider").Return(Provider("b1"))
	b2.On("Provider").Return(Provider("b2"))

	// Normal close
	b1.On("Close").Return(nil).Once()
	b2.On("Close").Return(nil).Once()

	require.NoError(t, reg.Register(b1))
	require.NoError(t, reg.Register(b2))

	err := reg.Close()
	assert.NoError(t, err)

	b1.AssertExpectations(t)
	b2.AssertExpectations(t)
}

func TestRegistry_CloseErrorPropagation(t *testing.T) {
	reg := NewRegistry()

	b1 := new(MockBackend)
	b2 := new(MockBackend)

	b1.On("Provider").Return(Provider("b1"))
	b2.On("Provider").Return(Provider("b2"))

	b1.On("Close").Return(errors.New("close failed")).Once()
	b2.On("Close").Return(nil).Maybe()

	require.NoError(t, reg.Register(b1))
	require.NoError(t, reg.Register(b2))

	err := reg.Close()
	assert.EqualError(t, err, "close failed")

	b1.AssertExpectations(t)
	b2.AssertExpectations(t)
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		in   string
		want Device
		err  bool
	}{
		{in: "cpu", want: Device{Type: DeviceCPU}},
		{in: " CUDA:1 ", want: Device{Type: DeviceCUDA, ID: 1}},
		{in: "metal:0", want: Device{Type: DeviceMetal}},
		{in: "tpu", err: true},
		{in: "cuda:x", err: true},
		{in: "cuda:-1", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDevice(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnsupportedDevice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "cuda:1", Device{Type: DeviceCUDA, ID: 1}.String())
	assert.Equal(t, "cpu", CPU().String())
}
