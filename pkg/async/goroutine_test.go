package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func TestSafeGo_Success(t *testing.T) {
	logger, hook := test.NewNullLogger()
	done := make(chan struct{})

	SafeGo(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not execute function")
	}
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, hook.AllEntries())
}

func TestSafeGo_ErrorIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()

	SafeGo(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		return errors.New("test error")
	})

	require.Eventually(t, func() bool { return len(hook.AllEntries()) == 1 }, time.Second, 5*time.Millisecond)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "test task", entry.Data["task"])
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	logger, hook := test.NewNullLogger()

	SafeGo(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		panic("test panic")
	})

	require.Eventually(t, func() bool { return len(hook.AllEntries()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "test panic", hook.LastEntry().Data["panic"])
}

func TestSafeGo_Timeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	result := make(chan error, 1)

	SafeGo(context.Background(), logger, 20*time.Millisecond, "test task", func(ctx context.Context) error {
		<-ctx.Done()
		result <- ctx.Err()
		return nil
	})

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task was not canceled by timeout")
	}
}

func TestSafeGo_SurvivesParentCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	cancel()

	type observed struct {
		err   error
		value interface{}
	}
	result := make(chan observed, 1)
	SafeGo(parent, logger, time.Second, "test task", func(ctx context.Context) error {
		result <- observed{err: ctx.Err(), value: ctx.Value(ctxKey{})}
		return nil
	})

	got := <-result
	assert.NoError(t, got.err)
	assert.Equal(t, "v", got.value)
}
