package objectstore

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryPutIfAbsentIsAtomic(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	const contenders = 32
	var wg sync.WaitGroup
	wins := make(chan int, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := store.PutIfAbsent(ctx, "locks/x.lock", []byte("{}")); err == nil {
				wins <- id
			} else if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("contender %d: unexpected error %v", id, err)
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	winners := 0
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestMemoryListIsSortedAndScoped(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for _, key := range []string{"b/2", "a/1", "b/1", "b/"} {
		if err := store.Put(ctx, key, []byte(key)); err != nil {
			t.Fatal(err)
		}
	}
	infos, err := store.List(ctx, "b/")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Key != "b/1" || infos[1].Key != "b/2" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
}

func TestMemoryGetCopiesPayload(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	payload, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	payload[0] = 'z'

	again, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != "abc" {
		t.Fatalf("stored payload mutated: %q", again)
	}
}
