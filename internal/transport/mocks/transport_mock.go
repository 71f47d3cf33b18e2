package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nootle/nootle/internal/transport"
)

type MockTransport struct {
	mock.Mock
}

var _ transport.Transport = (*MockTransport)(nil)

func (m *MockTransport) LocalID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockTransport) Connect(ctx context.Context, remoteID string) (transport.Channel, error) {
	args := m.Called(ctx, remoteID)
	ch, _ := args.Get(0).(transport.Channel)
	return ch, args.Error(1)
}

func (m *MockTransport) Accept(ctx context.Context) (transport.Channel, error) {
	args := m.Called(ctx)
	ch, _ := args.Get(0).(transport.Channel)
	return ch, args.Error(1)
}

func (m *MockTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockChannel struct {
	mock.Mock
}

var _ transport.Channel = (*MockChannel)(nil)

func (m *MockChannel) RemoteID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockChannel) Send(ctx context.Context, payload []byte) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockChannel) Receive(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}
