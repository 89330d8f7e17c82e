package ratelimits

import (
	"testing"
	"time"
)

func TestAdmitDeniesAtRate(t *testing.T) {
	l := New()
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }

	p := Policy{Rate: 3, Window: 10 * time.Second}
	for i := 0; i < p.Rate; i++ {
		if !l.Admit("edit", p, "key-a") {
			t.Fatalf("request %d denied under rate", i)
		}
	}
	if l.Admit("edit", p, "key-a") {
		t.Fatal("request over rate admitted")
	}
	// Another key in the same bucket is independent.
	if !l.Admit("edit", p, "key-b") {
		t.Fatal("unrelated key denied")
	}
	// Same key in another bucket is independent.
	if !l.Admit("render", p, "key-a") {
		t.Fatal("same key denied in unrelated bucket")
	}
}

func TestWindowExpiryRestoresAdmission(t *testing.T) {
	l := New()
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }

	p := Policy{Rate: 2, Window: 10 * time.Second}
	l.Admit("b", p, "k")
	l.Admit("b", p, "k")
	if l.Admit("b", p, "k") {
		t.Fatal("admitted over rate")
	}

	// Denials are not recorded, so the window clears Window after the last
	// granted admission.
	clock = clock.Add(p.Window + time.Second)
	if !l.Admit("b", p, "k") {
		t.Fatal("expired window still denying")
	}
}

func TestPruneDropsIdleKeys(t *testing.T) {
	l := New()
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }

	p := Policy{Rate: 1, Window: time.Second}
	l.Admit("b", p, "k")

	clock = clock.Add(time.Minute)
	l.Prune(p)

	if _, ok := l.buckets["b"]["k"]; ok {
		t.Fatal("idle key survived prune")
	}
}
