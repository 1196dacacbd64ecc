package core

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

// For any mix of healthy and failing observers, a broadcast delivers to every
// healthy one, evicts exactly the failing ones, and leaves only the healthy
// ones registered.
func TestProperty_BroadcastFailureIsolation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reg := NewRegistry[int]()
		failures := rapid.SliceOfN(rapid.Bool(), 0, 20).Draw(rt, "failures")

		healthy := make([]*recorder[int], 0, len(failures))
		failingIDs := make(map[string]bool)
		for _, fail := range failures {
			r := &recorder[int]{}
			if fail {
				r.fail = errors.New("dead")
			}
			sub, err := reg.Subscribe("ws", r)
			if err != nil {
				rt.Fatalf("Subscribe: %v", err)
			}
			if fail {
				failingIDs[sub.ID] = true
			} else {
				healthy = append(healthy, r)
			}
		}

		payload := rapid.Int().Draw(rt, "payload")
		res := reg.Broadcast(context.Background(), "ws", payload)

		if res.Attempted != len(failures) {
			rt.Fatalf("Attempted = %d, want %d", res.Attempted, len(failures))
		}
		if res.Delivered != len(healthy) {
			rt.Fatalf("Delivered = %d, want %d", res.Delivered, len(healthy))
		}
		if len(res.Evicted) != len(failingIDs) {
			rt.Fatalf("Evicted %d, want %d", len(res.Evicted), len(failingIDs))
		}
		for _, id := range res.Evicted {
			if !failingIDs[id] {
				rt.Fatalf("healthy observer %s was evicted", id)
			}
		}
		if reg.Count("ws") != len(healthy) {
			rt.Fatalf("Count = %d, want %d", reg.Count("ws"), len(healthy))
		}
		for _, h := range healthy {
			got := h.received()
			if len(got) != 1 || got[0] != payload {
				rt.Fatalf("healthy observer received %v", got)
			}
		}
	})
}
