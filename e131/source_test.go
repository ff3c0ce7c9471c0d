package e131

import "testing"

func baselineState() *universeState {
	s := newUniverseState()
	s.sources["S"] = &trackedSource{sequence: 100, priority: 100}
	s.activePriority = 100
	return s
}

func TestSequenceSkewOldDuplicateDropped(t *testing.T) {
	s := baselineState()
	if act := s.decide("S", 85, 100, false, 0); act != actionIgnore {
		t.Fatalf("seq 85 vs last 100 (diff -15) must be ignored, got %v", act)
	}
}

func TestSequenceSkewNewerAccepted(t *testing.T) {
	s := baselineState()
	if act := s.decide("S", 101, 100, false, 0); act != actionMergeExistingBuffer {
		t.Fatalf("seq 101 vs last 100 (diff +1) must be accepted, got %v", act)
	}
}

func TestSequenceSkewBoundaryExclusiveAccepted(t *testing.T) {
	s := baselineState()
	if act := s.decide("S", 80, 100, false, 0); act != actionMergeExistingBuffer {
		t.Fatalf("seq 80 vs last 100 (diff -20, boundary exclusive) must be accepted, got %v", act)
	}
}

func TestUntrackedCIDAboveMaxMergeSourcesIgnored(t *testing.T) {
	s := newUniverseState()
	for i := 0; i < MaxMergeSources; i++ {
		cid := string(rune('A' + i))
		if act := s.decide(cid, 0, 100, false, 0); act != actionMergeNewBuffer {
			t.Fatalf("source %d should have been accepted, got %v", i, act)
		}
	}
	if act := s.decide("overflow", 0, 100, false, 0); act != actionIgnore {
		t.Fatalf("7th source at MaxMergeSources must be ignored, got %v", act)
	}
}

func TestHigherPriorityPreemptsAndClearsOthers(t *testing.T) {
	s := baselineState()
	if act := s.decide("T", 0, 150, false, 0); act != actionMergeNewBuffer {
		t.Fatalf("higher-priority untracked CID must be accepted, got %v", act)
	}
	if len(s.sources) != 1 {
		t.Fatalf("preemption must clear the lower-priority source, have %d left", len(s.sources))
	}
	if _, ok := s.sources["S"]; ok {
		t.Fatal("old source S should have been cleared by preemption")
	}
}

func TestLowerPriorityUntrackedIgnored(t *testing.T) {
	s := baselineState()
	if act := s.decide("U", 0, 50, false, 0); act != actionIgnore {
		t.Fatalf("lower-priority untracked CID must be ignored, got %v", act)
	}
}

func TestSourceExpiryResetsActivePriority(t *testing.T) {
	s := baselineState()
	s.dropExpired(int64(sourceExpiry) + 1)
	if len(s.sources) != 0 || s.activePriority != 0 {
		t.Fatalf("expired sources must clear and reset active priority: sources=%d priority=%d", len(s.sources), s.activePriority)
	}
}
