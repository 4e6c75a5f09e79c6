package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestChannelEventBus_PublishAndSubscribe(t *testing.T) {
	eb := NewChannelEventBus(
		WithBufferSize(1),
		WithWorkerCount(1),
		WithRetries(1, 10*time.Millisecond),
	)
	defer eb.Close()

	received := make(chan string, 1)
	handler := func(ctx context.Context, event Event) error {
		received <- string(event.Type())
		return nil
	}
	_, err := eb.Subscribe([]EventType{EventToolSucceeded}, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	evt := NewEvent(EventToolSucceeded, nil, "test", nil)
	err = eb.Publish(context.Background(), evt)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case typ := <-received:
		if typ != string(EventToolSucceeded) {
			t.Errorf("expected event type %v, got %v", EventToolSucceeded, typ)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for event handler")
	}
}

func TestChannelEventBus_HandlerRetry(t *testing.T) {
	eb := NewChannelEventBus(
		WithBufferSize(1),
		WithWorkerCount(1),
		WithRetries(2, 10*time.Millisecond),
	)
	defer eb.Close()

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	handler := func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 2 {
			return context.DeadlineExceeded
		}
		close(done)
		return nil
	}
	_, err := eb.Subscribe([]EventType{EventToolFailed}, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	err = eb.Publish(context.Background(), NewEvent(EventToolFailed, nil, "test", nil))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for retried handler")
	}
	mu.Lock()
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	mu.Unlock()
}

func TestChannelEventBus_ContextCancellation(t *testing.T) {
	eb := NewChannelEventBus(
		WithBufferSize(1),
		WithWorkerCount(1),
		WithRetries(1, 10*time.Millisecond),
	)
	defer eb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan struct{}, 1)
	handler := func(ctx context.Context, event Event) error {
		received <- struct{}{}
		return nil
	}
	_, err := eb.Subscribe([]EventType{EventSessionStarted}, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	cancel()
	if err := eb.Publish(ctx, NewEvent(EventSessionStarted, nil, "test", nil)); err == nil {
		t.Error("expected error publishing with a cancelled context")
	}

	select {
	case <-received:
		t.Error("handler should not be called after context cancellation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelEventBus_SubscribeAllAndUnsubscribe(t *testing.T) {
	eb := NewChannelEventBus(WithWorkerCount(1))
	defer eb.Close()

	received := make(chan EventType, 4)
	id, err := eb.SubscribeAll(func(ctx context.Context, event Event) error {
		received <- event.Type()
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}

	if err := eb.Publish(context.Background(), NewEmptyEvent(EventSessionAborted)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case typ := <-received:
		if typ != EventSessionAborted {
			t.Errorf("expected %v, got %v", EventSessionAborted, typ)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for all-events handler")
	}

	if err := eb.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := eb.Publish(context.Background(), NewEmptyEvent(EventSessionCompleted)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case typ := <-received:
		t.Errorf("unsubscribed handler received %v", typ)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelEventBus_Closed(t *testing.T) {
	eb := NewChannelEventBus()
	if err := eb.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := eb.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := eb.Publish(context.Background(), NewEmptyEvent(EventSystemError)); err == nil {
		t.Error("expected error publishing on a closed bus")
	}
	if _, err := eb.Subscribe([]EventType{EventSystemError}, func(context.Context, Event) error { return nil }); err == nil {
		t.Error("expected error subscribing on a closed bus")
	}
}
