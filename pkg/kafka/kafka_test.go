package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookChainOrderAndPanicSafety(t *testing.T) {
	var order []string
	first := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			order = append(order, "before-1")
			return ctx, km, append(data, '1'), nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) { order = append(order, "after-1") },
	}
	second := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			order = append(order, "before-2")
			return ctx, km, append(data, '2'), nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) {
			order = append(order, "after-2")
			panic("boom")
		},
	}

	chain := NewHookChain(first, nil, second)
	_, _, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "x12", string(data))

	assert.NotPanics(t, func() { chain.AfterHandle(context.Background(), "t", kafka.Message{}, data, nil) })
	assert.Equal(t, []string{"before-1", "before-2", "after-2", "after-1"}, order)
}

func TestHookChainBeforePanicBecomesError(t *testing.T) {
	var seen error
	bad := HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("bad hook")
		},
		Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { seen = err },
	}
	_, _, _, err := NewHookChain(bad).BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "ERR_PANIC", he.Code)
	assert.Equal(t, err, seen)
}

func TestTraceHook(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, _, err := TraceHook().BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceIDFrom(ctx))
	_, ok := ctx.Value(CtxStartTime).(time.Time)
	assert.True(t, ok)
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	base := errors.New("bad payload")
	err := Permanent(base)
	var perm *PermanentError
	assert.True(t, errors.As(err, &perm))
	assert.True(t, errors.Is(err, base))
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))

	b, err = encodeValue("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))
}

func TestConstructorsRequireBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewConsumer()
	assert.Error(t, err)
}
