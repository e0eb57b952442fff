package withdrawal_test

import (
	"context"
	"sync"

	"github.com/amirasaad/coopcredit/pkg/eventbus"
	"github.com/amirasaad/coopcredit/pkg/withdrawal"
	"github.com/stretchr/testify/mock"
)

type MockAccountReader struct {
	mock.Mock
}

func (m *MockAccountReader) GetAccount(ctx context.Context, memberID string) (*withdrawal.Account, error) {
	args := m.Called(ctx, memberID)
	acc, _ := args.Get(0).(*withdrawal.Account)
	return acc, args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Record(ctx context.Context, e withdrawal.Entry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Emit(_ context.Context, e eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) Register(string, eventbus.HandlerFunc) {}

func (b *recordingBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type())
	}
	return out
}
