package pool_test

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/pool"
)

var _ api.ObjectPool[int] = (*pool.Bounded[int])(nil)

func TestBoundedFIFOAndOverflow(t *testing.T) {
	var discarded []int
	p := pool.NewBounded(2, func(v int) { discarded = append(discarded, v) })
	for i := 1; i <= 3; i++ {
		p.Offer(i)
	}
	if p.Len() != 2 {
		t.Fatalf("len %d", p.Len())
	}
	if diff := cmp.Diff([]int{3}, discarded); diff != "" {
		t.Fatal(diff)
	}
	if v, ok := p.Poll(); !ok || v != 1 {
		t.Fatalf("poll: %d %v", v, ok)
	}
	p.Clear()
	if _, ok := p.Poll(); ok {
		t.Fatal("poll after clear")
	}
	if diff := cmp.Diff([]int{3, 2}, discarded); diff != "" {
		t.Fatal(diff)
	}
}

func TestBoundedZeroCapacityDiscardsEverything(t *testing.T) {
	n := 0
	p := pool.NewBounded(0, func(int) { n++ })
	if p.Offer(7) || n != 1 {
		t.Fatalf("offer kept object, discards=%d", n)
	}
}

func TestBoundedUnboundedAndShrink(t *testing.T) {
	var discarded []int
	p := pool.NewBounded(pool.Unbounded, func(v int) { discarded = append(discarded, v) })
	for i := 0; i < 100; i++ {
		if !p.Offer(i) {
			t.Fatalf("unbounded pool rejected %d", i)
		}
	}
	p.SetCapacity(98)
	if p.Len() != 98 || p.Capacity() != 98 {
		t.Fatalf("len %d cap %d", p.Len(), p.Capacity())
	}
	if diff := cmp.Diff([]int{0, 1}, discarded); diff != "" {
		t.Fatal(diff)
	}
}

func TestBoundedConcurrent(t *testing.T) {
	p := pool.NewBounded[int](pool.Unbounded, nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				p.Offer(i)
				p.Poll()
			}
		}()
	}
	wg.Wait()
	if p.Len() != 0 {
		t.Fatalf("len %d after balanced offer/poll", p.Len())
	}
}
