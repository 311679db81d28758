package web

import (
	"encoding/json"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan string) Event {
	t.Helper()
	select {
	case msg := <-ch:
		var evt Event
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestHub_PublishLog(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	h.PublishLog("hello")

	evt := receive(t, ch)
	if evt.Kind != KindLog || evt.Msg != "hello" {
		t.Errorf("event = %+v, want log \"hello\"", evt)
	}
	if evt.Time == "" {
		t.Error("event should have a timestamp")
	}
	if evt.Status != nil {
		t.Error("log event should not carry a status")
	}
}

func TestHub_PublishStatus(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	h.PublishStatus(StatusView{Mount: "gem", Tracking: true, RateHz: 60.16427})

	evt := receive(t, ch)
	if evt.Kind != KindStatus || evt.Status == nil {
		t.Fatalf("event = %+v, want status", evt)
	}
	if evt.Status.Mount != "gem" || !evt.Status.Tracking {
		t.Errorf("status = %+v", evt.Status)
	}
}

func TestHub_MultipleSubscribers(t *testing.T) {
	h := NewHub()
	ch1, unsub1 := h.Subscribe()
	defer unsub1()
	ch2, unsub2 := h.Subscribe()
	defer unsub2()

	if h.Clients() != 2 {
		t.Errorf("Clients() = %d, want 2", h.Clients())
	}
	h.PublishLog("multi")

	for _, ch := range []<-chan string{ch1, ch2} {
		if evt := receive(t, ch); evt.Msg != "multi" {
			t.Errorf("msg = %q, want \"multi\"", evt.Msg)
		}
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if h.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", h.Clients())
	}
	// Publishing with no subscribers must not panic.
	h.PublishLog("after unsub")
}

func TestHub_FullChannelDropsEvent(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	for i := 0; i < 64; i++ {
		h.PublishLog("fill")
	}
	h.PublishLog("overflow") // must not block

	count := 0
	for len(ch) > 0 {
		<-ch
		count++
	}
	if count != 64 {
		t.Errorf("expected 64 buffered events, got %d", count)
	}
}

func TestLogWriter(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	w := LogWriter(h)
	line := "  [MountGo] tracking on  \n"
	n, err := w.Write([]byte(line))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(line) {
		t.Errorf("n = %d, want %d", n, len(line))
	}
	if evt := receive(t, ch); evt.Msg != "[MountGo] tracking on" {
		t.Errorf("msg = %q", evt.Msg)
	}

	w.Write([]byte("   \n"))
	select {
	case <-ch:
		t.Error("expected no event for whitespace-only write")
	case <-time.After(50 * time.Millisecond):
	}
}
