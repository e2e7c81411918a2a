package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []Message
	failN    int
	failSeen int
}

func (f *fakeSender) Send(ctx context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSeen < f.failN {
		f.failSeen++
		return assertErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

var assertErr = &sendErr{"simulated smtp failure"}

type sendErr struct{ s string }

func (e *sendErr) Error() string { return e.s }

func TestQueueDeliversMessage(t *testing.T) {
	logger := zap.NewNop().Sugar()
	sender := &fakeSender{}
	q := NewQueue(sender, logger, 1, 4, 0)

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	require.True(t, q.Enqueue(Message{To: []string{"a@example.com"}, Subject: "hi", Body: "body"}))

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	q.Wait()
}

func TestQueueEnqueueFullReturnsFalse(t *testing.T) {
	logger := zap.NewNop().Sugar()
	sender := &fakeSender{}
	q := NewQueue(sender, logger, 0, 1, 0)
	// workers=0 clamps to 1, but we never Start() so nothing drains.
	ok1 := q.Enqueue(Message{Subject: "one"})
	ok2 := q.Enqueue(Message{Subject: "two"})
	assert.True(t, ok1)
	assert.False(t, ok2)
}

func TestNotifyAdminsSkipsEmptyList(t *testing.T) {
	logger := zap.NewNop().Sugar()
	sender := &fakeSender{}
	q := NewQueue(sender, logger, 1, 4, 0)
	q.NotifyAdmins(Subscribers{}, "subject", "body")
	assert.Equal(t, 0, len(sender.sent))
}
