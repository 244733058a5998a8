package keylock

import (
	"sync"
	"testing"
)

func TestLock_SerializesSameKey(t *testing.T) {
	m := New()
	counter := 0
	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("s1/c1")
			v := counter
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
	if m.Len() != 0 {
		t.Fatalf("expected all entries released, got %d", m.Len())
	}
}

func TestLock_DifferentKeysIndependent(t *testing.T) {
	m := New()
	unlockA := m.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}

func TestKey(t *testing.T) {
	if Key("a", "b") == Key("ab") {
		t.Fatal("keys with different parts must differ")
	}
	if Key("s", "c") != Key("s", "c") {
		t.Fatal("keys must be stable")
	}
}
