package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishOrderPerSubscriber(t *testing.T) {
	p := NewPublisher[int]()
	a := p.Subscribe()
	b := p.Subscribe(4)
	defer a.Cancel()
	defer b.Cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Publish(context.Background(), i))
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, i, <-a.C())
		assert.Equal(t, i, <-b.C())
	}
}

func TestCancelClosesChannel(t *testing.T) {
	p := NewPublisher[string]()
	s := p.Subscribe()
	s.Cancel()
	s.Cancel()
	_, ok := <-s.C()
	assert.False(t, ok)
	assert.Equal(t, 0, p.Len())
	assert.NoError(t, p.Publish(context.Background(), "after"))
}

func TestPublishRespectsContextWhenFull(t *testing.T) {
	p := NewPublisher[int]()
	s := p.Subscribe(1)
	defer s.Cancel()
	require.NoError(t, p.Publish(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Publish(ctx, 2), context.DeadlineExceeded)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	p := NewPublisher[int]()
	s := p.Subscribe()
	p.Close()
	_, ok := <-s.C()
	assert.False(t, ok)

	late := p.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)
}
