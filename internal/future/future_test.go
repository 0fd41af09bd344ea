package future

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureCompleteThenWait(t *testing.T) {
	f := New[int]()
	f.Complete(42)

	res, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if !res.Ok() || res.Value != 42 {
		t.Fatalf("expected ok result with value 42, got %+v", res)
	}
}

func TestFutureFailThenWait(t *testing.T) {
	f := New[int]()
	sentinel := errors.New("boom")
	f.Fail(sentinel)

	res, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if res.Ok() {
		t.Fatalf("expected failed result")
	}
	if !errors.Is(res.Err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", res.Err)
	}
}

func TestFutureCompleteIsSingleAssignment(t *testing.T) {
	f := New[int]()
	f.Complete(1)
	f.Complete(2)
	f.Fail(errors.New("ignored"))

	res, _ := f.Wait(context.Background())
	if res.Value != 1 {
		t.Fatalf("expected first completion to win, got %+v", res)
	}
}

func TestFutureWaitRespectsContextCancellation(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	if err == nil {
		t.Fatalf("expected context deadline error")
	}
}

func TestFuturePeek(t *testing.T) {
	f := New[string]()
	if _, ok := f.Peek(); ok {
		t.Fatalf("expected Peek to report not-done before completion")
	}
	f.Complete("done")
	res, ok := f.Peek()
	if !ok || res.Value != "done" {
		t.Fatalf("expected Peek to report completion, got %+v ok=%v", res, ok)
	}
}
