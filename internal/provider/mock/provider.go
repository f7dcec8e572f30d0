// Package mock provides scripted providers for tests and local development.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/deneee3444-wq/api/pkg/models"
)

// MockProvider satisfies models.GenerationProvider. Unset funcs fall back to
// immediate success. Call counters are safe for concurrent use.
type MockProvider struct {
	Name_      string
	LoginFunc  func(ctx context.Context, identifier, secret string) (string, error)
	UploadFunc func(ctx context.Context, token string, image []byte) (string, error)
	SubmitFunc func(ctx context.Context, token string, req models.SubmitRequest) (string, error)
	PollFunc   func(ctx context.Context, token string, kind models.JobKind, correlationID string) (models.PollResult, error)

	logins  atomic.Int32
	uploads atomic.Int32
	submits atomic.Int32
	polls   atomic.Int32

	mu          sync.Mutex
	loginsTried []string
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Login(ctx context.Context, identifier, secret string) (string, error) {
	m.logins.Add(1)
	m.mu.Lock()
	m.loginsTried = append(m.loginsTried, identifier)
	m.mu.Unlock()
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, identifier, secret)
	}
	return "token-" + identifier, nil
}

func (m *MockProvider) UploadImage(ctx context.Context, token string, image []byte) (string, error) {
	n := m.uploads.Add(1)
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, token, image)
	}
	return fmt.Sprintf("%d", 1000+n), nil
}

func (m *MockProvider) Submit(ctx context.Context, token string, req models.SubmitRequest) (string, error) {
	n := m.submits.Add(1)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, token, req)
	}
	return fmt.Sprintf("task-%d", n), nil
}

func (m *MockProvider) Poll(ctx context.Context, token string, kind models.JobKind, correlationID string) (models.PollResult, error) {
	m.polls.Add(1)
	if m.PollFunc != nil {
		return m.PollFunc(ctx, token, kind, correlationID)
	}
	return models.PollResult{
		State:         models.PollSucceeded,
		ResultLocator: fmt.Sprintf("https://mock.invalid/%s/%s", kind, correlationID),
	}, nil
}

// Logins returns how many times Login was called.
func (m *MockProvider) Logins() int { return int(m.logins.Load()) }

// Uploads returns how many times UploadImage was called.
func (m *MockProvider) Uploads() int { return int(m.uploads.Load()) }

// Submits returns how many times Submit was called.
func (m *MockProvider) Submits() int { return int(m.submits.Load()) }

// Polls returns how many times Poll was called.
func (m *MockProvider) Polls() int { return int(m.polls.Load()) }

// LoginsTried returns the identifiers passed to Login, in call order.
func (m *MockProvider) LoginsTried() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.loginsTried...)
}

// NewMockProvider returns a MockProvider whose work succeeds on the first poll.
func NewMockProvider() *MockProvider {
	return &MockProvider{Name_: "mock"}
}

// NewRejectingProvider returns a MockProvider that refuses every submission with err.
func NewRejectingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-rejecting",
		SubmitFunc: func(_ context.Context, _ string, _ models.SubmitRequest) (string, error) {
			return "", err
		},
	}
}

// NewPendingProvider returns a MockProvider whose work never finishes.
func NewPendingProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-pending",
		PollFunc: func(_ context.Context, _ string, _ models.JobKind, _ string) (models.PollResult, error) {
			return models.PollResult{State: models.PollPending}, nil
		},
	}
}

// MockSynthesizer satisfies models.SpeechSynthesizer.
type MockSynthesizer struct {
	SynthesizeFunc func(ctx context.Context, req models.SpeechRequest) ([]byte, error)
	VoicesFunc     func(ctx context.Context) ([]models.Voice, error)

	voiceCalls atomic.Int32
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, req models.SpeechRequest) ([]byte, error) {
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, req)
	}
	return []byte("ID3mock:" + req.Text), nil
}

func (m *MockSynthesizer) Voices(ctx context.Context) ([]models.Voice, error) {
	m.voiceCalls.Add(1)
	if m.VoicesFunc != nil {
		return m.VoicesFunc(ctx)
	}
	return []models.Voice{{Name: "Mock", VoiceID: "mock-voice"}}, nil
}

// VoiceCalls returns how many times Voices was called.
func (m *MockSynthesizer) VoiceCalls() int { return int(m.voiceCalls.Load()) }

// Compile-time checks.
var (
	_ models.GenerationProvider = (*MockProvider)(nil)
	_ models.SpeechSynthesizer  = (*MockSynthesizer)(nil)
)
