package watcher

import (
	"testing"
	"time"
)

func TestDebouncerCoalescesEvents(t *testing.T) {
	debouncer := newDebouncer(25 * time.Millisecond)
	defer debouncer.stop()

	received := make(chan string, 4)
	flush := func(path string) {
		received <- path
	}

	if dropped := debouncer.schedule("runs.json", Event{Path: "runs.json"}, flush); dropped {
		t.Fatalf("expected first event not to be dropped")
	}
	if dropped := debouncer.schedule("runs.json", Event{Path: "runs.json"}, flush); !dropped {
		t.Fatalf("expected second event to be coalesced")
	}
	if dropped := debouncer.schedule("other.json", Event{Path: "other.json"}, flush); dropped {
		t.Fatalf("expected a different path to be scheduled separately")
	}

	seen := map[string]int{}
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case path := <-received:
			seen[path]++
		case <-deadline:
			if seen["runs.json"] != 1 || seen["other.json"] != 1 {
				t.Fatalf("expected one flush per path, got %v", seen)
			}
			return
		}
	}
}
