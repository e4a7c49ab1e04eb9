package ctlplane

import (
	"context"

	"github.com/stretchr/testify/mock"

	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/npf"
)

// MockControlPlaneClient is a mock implementation of ControlPlaneClient for testing.
type MockControlPlaneClient struct {
	mock.Mock
}

func (m *MockControlPlaneClient) Submit(ctx context.Context, cfg *npf.Config) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *MockControlPlaneClient) Flush(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockControlPlaneClient) Retrieve(ctx context.Context) (*npf.Config, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*npf.Config), args.Error(1)
}

func (m *MockControlPlaneClient) RuleAdd(ctx context.Context, ruleset string, r *npf.Rule) (uint64, error) {
	args := m.Called(ctx, ruleset, r)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockControlPlaneClient) RuleRemove(ctx context.Context, ruleset string, id uint64) error {
	return m.Called(ctx, ruleset, id).Error(0)
}

func (m *MockControlPlaneClient) RuleRemoveKey(ctx context.Context, ruleset string, key []byte) error {
	return m.Called(ctx, ruleset, key).Error(0)
}

func (m *MockControlPlaneClient) RuleFlush(ctx context.Context, ruleset string) error {
	return m.Called(ctx, ruleset).Error(0)
}

func (m *MockControlPlaneClient) RuleList(ctx context.Context, ruleset string) (*npf.Config, error) {
	args := m.Called(ctx, ruleset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*npf.Config), args.Error(1)
}

func (m *MockControlPlaneClient) NATLookup(ctx context.Context, key npf.ConnKey, dir uint16) (npf.NATResult, error) {
	args := m.Called(ctx, key, dir)
	return args.Get(0).(npf.NATResult), args.Error(1)
}

func (m *MockControlPlaneClient) ConnList(ctx context.Context) ([]npf.Conn, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]npf.Conn), args.Error(1)
}

func (m *MockControlPlaneClient) LastError() *npf.PeerError {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*npf.PeerError)
}

func (m *MockControlPlaneClient) Close() error {
	return m.Called().Error(0)
}

// MockChannel is a mock implementation of Channel for testing.
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Send(ctx context.Context, cmd Command, req *dict.Map) error {
	return m.Called(ctx, cmd, req).Error(0)
}

func (m *MockChannel) SendRecv(ctx context.Context, cmd Command, req *dict.Map) (*dict.Map, error) {
	args := m.Called(ctx, cmd, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dict.Map), args.Error(1)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}
