package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metadatapkg "github.com/drblury/tenantbus/internal/runtime/metadata"
)

func hookMessage() *message.Message {
	msg := message.NewMessage("test-uuid", []byte("payload"))
	msg.Metadata.Set(metadatapkg.KafkaTopic, "folio.Default.diku.ITEM_CREATED")
	msg.SetContext(context.Background())
	return msg
}

func TestJobHooks_OnJobStart(t *testing.T) {
	var captured JobContext
	hooks := JobHooks{OnJobStart: func(ctx JobContext) { captured = ctx }}

	handler := jobHooksMiddleware(hooks)(func(*message.Message) ([]*message.Message, error) {
		return nil, nil
	})

	_, err := handler(hookMessage())
	require.NoError(t, err)
	assert.Equal(t, "test-uuid", captured.MessageUUID)
	assert.Equal(t, "ITEM_CREATED", captured.EventType)
	assert.Equal(t, "diku", captured.Tenant)
	assert.False(t, captured.StartedAt.IsZero())
}

func TestJobHooks_OnJobDone(t *testing.T) {
	var captured JobContext
	hooks := JobHooks{OnJobDone: func(ctx JobContext) { captured = ctx }}

	handler := jobHooksMiddleware(hooks)(func(*message.Message) ([]*message.Message, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})

	_, err := handler(hookMessage())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, captured.Duration, 10*time.Millisecond)
}

func TestJobHooks_OnJobError(t *testing.T) {
	expected := errors.New("handler error")
	var capturedErr error
	var doneCalled bool
	hooks := JobHooks{
		OnJobDone:  func(JobContext) { doneCalled = true },
		OnJobError: func(_ JobContext, err error) { capturedErr = err },
	}

	handler := jobHooksMiddleware(hooks)(func(*message.Message) ([]*message.Message, error) {
		return nil, expected
	})

	_, err := handler(hookMessage())
	assert.ErrorIs(t, err, expected)
	assert.Equal(t, expected, capturedErr)
	assert.False(t, doneCalled)
}

func TestJobHooks_ResendCount(t *testing.T) {
	var captured JobContext
	hooks := JobHooks{OnJobStart: func(ctx JobContext) { captured = ctx }}

	handler := jobHooksMiddleware(hooks)(func(*message.Message) ([]*message.Message, error) {
		return nil, nil
	})

	msg := hookMessage()
	msg.Metadata.Set(metadatapkg.ResendCounter, "3")
	_, err := handler(msg)
	require.NoError(t, err)
	assert.Equal(t, 3, captured.ResendCount)
}

func TestJobHooks_Merge(t *testing.T) {
	var calls []string
	record := func(name string) func(JobContext) {
		return func(JobContext) { calls = append(calls, name) }
	}

	merged := JobHooks{OnJobStart: record("start1"), OnJobDone: record("done1")}.
		Merge(JobHooks{OnJobStart: record("start2"), OnJobDone: record("done2")})

	handler := jobHooksMiddleware(merged)(func(*message.Message) ([]*message.Message, error) {
		return nil, nil
	})
	_, _ = handler(hookMessage())

	assert.Equal(t, []string{"start1", "start2", "done1", "done2"}, calls)
}

func TestJobHooks_MergePartial(t *testing.T) {
	var calls []string
	merged := JobHooks{OnJobStart: func(JobContext) { calls = append(calls, "start1") }}.
		Merge(JobHooks{OnJobDone: func(JobContext) { calls = append(calls, "done2") }})

	assert.Nil(t, merged.OnJobError)
	merged.OnJobStart(JobContext{})
	merged.OnJobDone(JobContext{})
	assert.Equal(t, []string{"start1", "done2"}, calls)
}

func TestJobHooksMiddleware_Registration(t *testing.T) {
	reg := JobHooksMiddleware(JobHooks{OnJobStart: func(JobContext) {}})
	assert.Equal(t, "job_hooks", reg.Name)
	assert.NotNil(t, reg.Builder)
}

func TestLoggingHooks(t *testing.T) {
	logger := &recordingLogger{}
	hooks := LoggingHooks(logger)

	hooks.OnJobStart(JobContext{EventType: "X"})
	hooks.OnJobDone(JobContext{EventType: "X"})
	hooks.OnJobError(JobContext{EventType: "X"}, errors.New("boom"))

	assert.Equal(t, []string{"Job started", "Job completed"}, logger.debugs())
	assert.Equal(t, []string{"Job failed"}, logger.errors())
}

func TestMetricsHooks(t *testing.T) {
	var started, done, failed []string
	hooks := MetricsHooks(
		func(eventType, tenant string) { started = append(started, eventType+"/"+tenant) },
		func(eventType, tenant string) { done = append(done, eventType+"/"+tenant) },
		func(eventType, tenant string) { failed = append(failed, eventType+"/"+tenant) },
	)

	ctx := JobContext{EventType: "X", Tenant: "diku"}
	hooks.OnJobStart(ctx)
	hooks.OnJobDone(ctx)
	hooks.OnJobError(ctx, errors.New("test"))

	assert.Equal(t, []string{"X/diku"}, started)
	assert.Equal(t, []string{"X/diku"}, done)
	assert.Equal(t, []string{"X/diku"}, failed)
}

func TestAlertingHooks(t *testing.T) {
	var captured error
	hooks := AlertingHooks(func(_ JobContext, err error) { captured = err })

	expected := errors.New("alert error")
	hooks.OnJobError(JobContext{}, expected)

	assert.Equal(t, expected, captured)
	assert.Nil(t, hooks.OnJobStart)
}
