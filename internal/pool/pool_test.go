package pool

import (
	"errors"
	"testing"

	"github.com/QDeepNet/QDeep-MatrixP/internal/chunk"
	"github.com/QDeepNet/QDeep-MatrixP/internal/page"
)

func newTestPool(t *testing.T, opts Options) *Pool {
	t.Helper()
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestGetAllocatesFirstPageLazily(t *testing.T) {
	p := newTestPool(t, Options{})
	if p.Pages() != 0 {
		t.Fatalf("Pages() = %d before any Get, want 0", p.Pages())
	}
	if _, err := p.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Pages() != 1 {
		t.Fatalf("Pages() = %d after first Get, want 1", p.Pages())
	}
}

func TestGetGrowsOnlyWhenCurrentPagesAreFull(t *testing.T) {
	p := newTestPool(t, Options{})
	for i := 0; i < page.Capacity; i++ {
		if _, err := p.Get(); err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
	}
	if p.Pages() != 1 {
		t.Fatalf("Pages() = %d after filling one page, want 1", p.Pages())
	}
	if _, err := p.Get(); err != nil {
		t.Fatalf("Get beyond one page's capacity: %v", err)
	}
	if p.Pages() != 2 {
		t.Fatalf("Pages() = %d after exceeding one page, want 2", p.Pages())
	}
}

// TestRetRoutesToOwningPage covers invariant 6: returning a chunk must
// land it back on the exact page that produced it, found via the
// address-ordered tree, regardless of how many pages the pool holds.
func TestRetRoutesToOwningPage(t *testing.T) {
	p := newTestPool(t, Options{})

	const n = page.Capacity + 50 // spans two pages
	allocated := make([]*chunk.Chunk, 0, n)
	for i := 0; i < n; i++ {
		c, err := p.Get()
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		allocated = append(allocated, c)
	}
	if p.Pages() != 2 {
		t.Fatalf("Pages() = %d, want 2", p.Pages())
	}

	for i, c := range allocated {
		if err := p.Ret(c); err != nil {
			t.Fatalf("Ret #%d: %v", i, err)
		}
	}

	// Every slot across both pages should be free again.
	for i := 0; i < n; i++ {
		if _, err := p.Get(); err != nil {
			t.Fatalf("re-Get #%d after freeing everything: %v", i, err)
		}
	}
	if p.Pages() != 2 {
		t.Fatalf("Pages() = %d after re-filling, want 2 (no new page should be created)", p.Pages())
	}
}

func TestRetOfForeignChunkFails(t *testing.T) {
	p1 := newTestPool(t, Options{})
	p2 := newTestPool(t, Options{})

	c, err := p1.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := p2.Ret(c); err == nil {
		t.Fatalf("Ret should fail for a chunk that belongs to a different pool")
	}
}

func TestMaxPagesLimitsGrowth(t *testing.T) {
	p := newTestPool(t, Options{MaxPages: 1})
	for i := 0; i < page.Capacity; i++ {
		if _, err := p.Get(); err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
	}
	if _, err := p.Get(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Get past MaxPages = %v, want an error wrapping ErrExhausted", err)
	}
}

func TestLogReceivesPageLifecycleEvents(t *testing.T) {
	var events []string
	p := newTestPool(t, Options{Log: func(event string, fields ...any) {
		events = append(events, event)
	}})
	if _, err := p.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(events) != 1 || events[0] != "page_created" {
		t.Fatalf("events = %v, want exactly one page_created", events)
	}
}

func TestShrinkEmptyFreesIdlePages(t *testing.T) {
	p := newTestPool(t, Options{})

	firstPage := make([]*chunk.Chunk, 0, page.Capacity)
	for i := 0; i < page.Capacity; i++ {
		c, err := p.Get()
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		firstPage = append(firstPage, c)
	}
	if _, err := p.Get(); err != nil {
		t.Fatalf("Get (second page): %v", err)
	}

	for _, c := range firstPage {
		if err := p.Ret(c); err != nil {
			t.Fatalf("Ret: %v", err)
		}
	}

	freed, err := p.ShrinkEmpty()
	if err != nil {
		t.Fatalf("ShrinkEmpty: %v", err)
	}
	if freed != 1 {
		t.Fatalf("ShrinkEmpty freed %d pages, want 1", freed)
	}
	if p.Pages() != 1 {
		t.Fatalf("Pages() = %d after shrink, want 1", p.Pages())
	}
}

func TestValidateRejectsNegativeMaxPages(t *testing.T) {
	if err := (Options{MaxPages: -1}).Validate(); err == nil {
		t.Fatalf("Validate should reject a negative MaxPages")
	}
}
