package room

import (
	"testing"
)

func TestTransition(t *testing.T) {
	none := Machine{State: StateNone}
	low := Machine{State: StateLow}
	high := Machine{State: StateHigh}
	pausedLow := Machine{State: StatePaused, Saved: StateLow}
	pausedHigh := Machine{State: StatePaused, Saved: StateHigh}

	tests := []struct {
		name    string
		from    Machine
		ev      Event
		want    Machine
		action  Action
		wantErr error
	}{
		{"start", none, Event{Kind: EventStart}, low, ActionNone, nil},
		{"start twice", low, Event{Kind: EventStart}, low, ActionNone, ErrAlreadyStarted},
		{"pause from none", none, Event{Kind: EventPause}, none, ActionNone, ErrNotStarted},
		{"pause low", low, Event{Kind: EventPause}, pausedLow, ActionNone, nil},
		{"pause high", high, Event{Kind: EventPause}, pausedHigh, ActionNone, nil},
		{"pause paused", pausedLow, Event{Kind: EventPause}, pausedLow, ActionNone, ErrAlreadyPaused},
		{"resume low", pausedLow, Event{Kind: EventResume}, low, ActionNone, nil},
		{"resume high", pausedHigh, Event{Kind: EventResume}, high, ActionNone, nil},
		{"resume running", low, Event{Kind: EventResume}, low, ActionNone, ErrNotPaused},
		{"resume none", none, Event{Kind: EventResume}, none, ActionNone, ErrNotPaused},
		{"low empty", low, Event{Kind: EventCycle}, low, ActionSleep, nil},
		{"low occupied", low, Event{Kind: EventCycle, Clusters: 1}, high, ActionNone, nil},
		{"high occupied", high, Event{Kind: EventCycle, Clusters: 2}, high, ActionNone, nil},
		{"high fall", high, Event{Kind: EventCycle, Clusters: 1, Fall: true}, high, ActionEmitFall, nil},
		{"high empty", high, Event{Kind: EventCycle}, low, ActionNone, nil},
		{"cycle none", none, Event{Kind: EventCycle, Clusters: 1}, none, ActionNone, ErrNotStarted},
		{"in-flight cycle while paused", pausedLow, Event{Kind: EventCycle, Clusters: 1}, pausedHigh, ActionNone, nil},
		{"in-flight fall while paused", pausedHigh, Event{Kind: EventCycle, Clusters: 1, Fall: true}, pausedHigh, ActionEmitFall, nil},
		{"stop paused", pausedHigh, Event{Kind: EventStop}, none, ActionNone, nil},
		{"stop high", high, Event{Kind: EventStop}, none, ActionNone, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, out, err := Transition(tt.from, tt.ev)
			if err != tt.wantErr {
				t.Fatalf("Transition() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Transition() machine = %+v, want %+v", got, tt.want)
			}
			if out.Action != tt.action {
				t.Errorf("Transition() action = %v, want %v", out.Action, tt.action)
			}
		})
	}
}

// LOW moves to HIGH iff the pass found a cluster, HIGH to LOW iff it found
// none, whatever the cluster count and fall flag.
func TestTransition_ClusterCountDrivesMode(t *testing.T) {
	for clusters := 0; clusters < 5; clusters++ {
		for _, fall := range []bool{false, true} {
			ev := Event{Kind: EventCycle, Clusters: clusters, Fall: fall}

			got, _, err := Transition(Machine{State: StateLow}, ev)
			if err != nil {
				t.Fatal(err)
			}
			if (got.State == StateHigh) != (clusters > 0) {
				t.Errorf("LOW with %d clusters went to %v", clusters, got.State)
			}

			got, _, err = Transition(Machine{State: StateHigh}, ev)
			if err != nil {
				t.Fatal(err)
			}
			if (got.State == StateLow) != (clusters == 0) {
				t.Errorf("HIGH with %d clusters went to %v", clusters, got.State)
			}
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateNone: "NONE", StatePaused: "PAUSED", StateLow: "LOW", StateHigh: "HIGH", State(7): "State(7)",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []State{StateNone, StatePaused, StateLow, StateHigh} {
		got, err := ParseState(s.String())
		if err != nil || got != s {
			t.Errorf("ParseState(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseState("ASLEEP"); err == nil {
		t.Error("ParseState accepted an unknown name")
	}
	var s State
	if err := s.UnmarshalText([]byte("HIGH")); err != nil || s != StateHigh {
		t.Errorf("UnmarshalText = %v, %v", s, err)
	}
}
