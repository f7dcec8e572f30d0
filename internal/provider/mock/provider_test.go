package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/deneee3444-wq/api/internal/provider/mock"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockProvider_Defaults(t *testing.T) {
	p := mock.NewMockProvider()
	ctx := context.Background()
	assert.Equal(t, "mock", p.Name())

	token, err := p.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "token-a@example.com", token)

	id, err := p.UploadImage(ctx, token, []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "1001", id)

	task, err := p.Submit(ctx, token, models.SubmitRequest{Kind: models.JobKindImage})
	require.NoError(t, err)
	assert.Equal(t, "task-1", task)

	res, err := p.Poll(ctx, token, models.JobKindImage, task)
	require.NoError(t, err)
	assert.Equal(t, models.PollSucceeded, res.State)
	assert.Equal(t, "https://mock.invalid/image/task-1", res.ResultLocator)

	assert.Equal(t, 1, p.Logins())
	assert.Equal(t, 1, p.Uploads())
	assert.Equal(t, 1, p.Submits())
	assert.Equal(t, 1, p.Polls())
	assert.Equal(t, []string{"a@example.com"}, p.LoginsTried())
}

func TestNewRejectingProvider(t *testing.T) {
	want := errors.New("no credits")
	p := mock.NewRejectingProvider(want)

	_, err := p.Submit(context.Background(), "tok", models.SubmitRequest{})
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 1, p.Submits())
}

func TestNewPendingProvider(t *testing.T) {
	p := mock.NewPendingProvider()

	for i := 0; i < 3; i++ {
		res, err := p.Poll(context.Background(), "tok", models.JobKindVideo, "t")
		require.NoError(t, err)
		assert.Equal(t, models.PollPending, res.State)
	}
	assert.Equal(t, 3, p.Polls())
}

func TestMockProvider_CustomFuncs(t *testing.T) {
	p := &mock.MockProvider{
		Name_: "bare",
		LoginFunc: func(_ context.Context, identifier, _ string) (string, error) {
			return "", errors.New("bad password for " + identifier)
		},
	}

	_, err := p.Login(context.Background(), "x", "y")
	assert.EqualError(t, err, "bad password for x")
	assert.Equal(t, "bare", p.Name())
}

func TestMockSynthesizer(t *testing.T) {
	s := &mock.MockSynthesizer{}

	audio, err := s.Synthesize(context.Background(), models.SpeechRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3mock:hi"), audio)

	voices, err := s.Voices(context.Background())
	require.NoError(t, err)
	assert.Len(t, voices, 1)
	assert.Equal(t, 1, s.VoiceCalls())
}

func TestInterfaceCompliance(t *testing.T) {
	var _ models.GenerationProvider = mock.NewMockProvider()
	var _ models.SpeechSynthesizer = &mock.MockSynthesizer{}
}
