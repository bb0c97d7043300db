package notify

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendRegistrationConfirmation(ctx context.Context, email string, fullName string) {
	m.Called(ctx, email, fullName)
}

func (m *MockNotifier) SendPasswordReset(ctx context.Context, email string, link string) {
	m.Called(ctx, email, link)
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
