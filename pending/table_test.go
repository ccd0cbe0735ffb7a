package pending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gbxremote/gbxerr"
	"gbxremote/xmlvalue"
)

func encode(t *testing.T, v xmlvalue.Value) []byte {
	t.Helper()
	body, err := xmlvalue.EncodeResponse(v)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestRegisterDuplicateHandle(t *testing.T) {
	tbl := New()
	if _, err := tbl.Register(1); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	_, err := tbl.Register(1)
	var dup *gbxerr.DuplicateHandle
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateHandle, got %v", err)
	}
}

func TestCompleteDeliversToWaiter(t *testing.T) {
	tbl := New()
	ch, err := tbl.Register(5)
	if err != nil {
		t.Fatal(err)
	}

	tbl.Complete(5, encode(t, xmlvalue.String("ok")))

	resp, err := tbl.Await(context.Background(), 5, ch)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if resp.Value.Str != "ok" {
		t.Fatalf("mismatch: got %+v, want %q", resp, "ok")
	}
}

func TestCompleteOnUnknownHandleIsDropped(t *testing.T) {
	tbl := New()
	// Should not panic; nothing is registered for handle 99.
	tbl.Complete(99, encode(t, xmlvalue.Value{}))
}

// TestCompleteWithUndecodablePayloadFailsOnlyThatCall verifies that a body
// which fails to parse surfaces gbxerr.Decode to the one waiting caller,
// rather than tearing down the connection — decoding happens in Await, on
// the caller's own goroutine, not in the receive loop that called Complete.
func TestCompleteWithUndecodablePayloadFailsOnlyThatCall(t *testing.T) {
	tbl := New()
	ch, err := tbl.Register(6)
	if err != nil {
		t.Fatal(err)
	}

	tbl.Complete(6, []byte("not valid xml-rpc"))

	_, err = tbl.Await(context.Background(), 6, ch)
	var decodeErr *gbxerr.Decode
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected Decode error, got %v", err)
	}
}

func TestFailAllDrainsAllPending(t *testing.T) {
	tbl := New()
	const n = 10
	chans := make([]<-chan Result, n)
	for i := 0; i < n; i++ {
		ch, err := tbl.Register(uint32(i))
		if err != nil {
			t.Fatal(err)
		}
		chans[i] = ch
	}

	sentinel := errors.New("connection closed")
	tbl.FailAll(sentinel)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tbl.Await(context.Background(), uint32(i), chans[i])
			if !errors.Is(err, sentinel) && err != sentinel {
				t.Errorf("handle %d: expected sentinel error, got %v", i, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestAwaitCancellation(t *testing.T) {
	tbl := New()
	ch, err := tbl.Register(7)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = tbl.Await(ctx, 7, ch)
	var cancelled *gbxerr.Cancelled
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}

	// A late reply for the cancelled handle must now be dropped.
	tbl.Complete(7, encode(t, xmlvalue.Int(1)))
}

func TestAwaitTimeout(t *testing.T) {
	tbl := New()
	ch, err := tbl.Register(8)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = tbl.Await(ctx, 8, ch)
	var timeout *gbxerr.Timeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestOutOfOrderCorrelation(t *testing.T) {
	tbl := New()
	ch10, _ := tbl.Register(0x80000010)
	ch11, _ := tbl.Register(0x80000011)

	// Server replies to ...11 first, then ...10.
	tbl.Complete(0x80000011, encode(t, xmlvalue.String("eleven")))
	tbl.Complete(0x80000010, encode(t, xmlvalue.String("ten")))

	r10, _ := tbl.Await(context.Background(), 0x80000010, ch10)
	r11, _ := tbl.Await(context.Background(), 0x80000011, ch11)

	if r10.Value.Str != "ten" {
		t.Errorf("handle ...10 got %q, want %q", r10.Value.Str, "ten")
	}
	if r11.Value.Str != "eleven" {
		t.Errorf("handle ...11 got %q, want %q", r11.Value.Str, "eleven")
	}
}
