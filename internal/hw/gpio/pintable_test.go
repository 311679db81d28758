package gpio

import (
	"errors"
	"sync"
	"testing"
)

func TestPinTable_GetUpdateDrain(t *testing.T) {
	var tab pinTable[string]
	if _, ok := tab.get(17); ok {
		t.Fatal("empty table should miss")
	}

	set := func(pin int, v string) {
		t.Helper()
		if err := tab.update(func(m map[int]string) error { m[pin] = v; return nil }); err != nil {
			t.Fatal(err)
		}
	}
	set(17, "step")
	set(27, "dir")
	if v, ok := tab.get(17); !ok || v != "step" {
		t.Errorf("get(17) = %q, %v", v, ok)
	}

	got := tab.drain()
	if len(got) != 2 || got[27] != "dir" {
		t.Errorf("drain = %v", got)
	}
	if _, ok := tab.get(17); ok {
		t.Error("drained table should miss")
	}
}

func TestPinTable_FailedUpdatePublishesNothing(t *testing.T) {
	var tab pinTable[int]
	_ = tab.update(func(m map[int]int) error { m[1] = 1; return nil })

	boom := errors.New("busy")
	err := tab.update(func(m map[int]int) error {
		m[2] = 2
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := tab.get(2); ok {
		t.Error("failed update leaked into the table")
	}
	if _, ok := tab.get(1); !ok {
		t.Error("earlier entry lost")
	}
}

func TestPinTable_ReadersDuringUpdates(t *testing.T) {
	var tab pinTable[int]
	_ = tab.update(func(m map[int]int) error { m[0] = 0; return nil })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			_ = tab.update(func(m map[int]int) error { m[i] = i; return nil })
		}
	}()
	for i := 0; i < 2000; i++ {
		if v, ok := tab.get(0); !ok || v != 0 {
			t.Fatalf("pin 0 lost during updates: %d, %v", v, ok)
		}
	}
	wg.Wait()
	if v, ok := tab.get(200); !ok || v != 200 {
		t.Errorf("get(200) = %d, %v", v, ok)
	}
}
