package models

import "testing"

func TestAgentState_Valid(t *testing.T) {
	tests := []struct {
		name  string
		state AgentState
		want  bool
	}{
		{"booting is valid", StateBooting, true},
		{"working is valid", StateWorking, true},
		{"completed is valid", StateCompleted, true},
		{"stalled is valid", StateStalled, true},
		{"zombie is valid", StateZombie, true},
		{"empty string is invalid", AgentState(""), false},
		{"unknown state is invalid", AgentState("paused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Valid(); got != tt.want {
				t.Errorf("AgentState(%q).Valid() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestAgentState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from AgentState
		to   AgentState
		want bool
	}{
		{"booting to working", StateBooting, StateWorking, true},
		{"booting to zombie", StateBooting, StateZombie, true},
		{"booting to completed", StateBooting, StateCompleted, false},
		{"booting to stalled", StateBooting, StateStalled, false},
		{"working to completed", StateWorking, StateCompleted, true},
		{"working to stalled", StateWorking, StateStalled, true},
		{"working to zombie", StateWorking, StateZombie, true},
		{"working to booting", StateWorking, StateBooting, false},
		{"stalled to working", StateStalled, StateWorking, true},
		{"stalled to zombie", StateStalled, StateZombie, true},
		{"stalled to completed", StateStalled, StateCompleted, false},
		{"completed is terminal", StateCompleted, StateZombie, false},
		{"zombie is terminal", StateZombie, StateWorking, false},
		{"zombie to zombie rejected", StateZombie, StateZombie, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestAgentState_Terminal(t *testing.T) {
	for _, s := range []AgentState{StateBooting, StateWorking, StateStalled} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
		if !s.Active() {
			t.Errorf("%s.Active() = false, want true", s)
		}
	}
	for _, s := range []AgentState{StateCompleted, StateZombie} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
		if s.Active() {
			t.Errorf("%s.Active() = true, want false", s)
		}
	}
}

func TestCapability_Valid(t *testing.T) {
	valid := []Capability{
		CapCoordinator, CapSupervisor, CapLead, CapBuilder,
		CapScout, CapReviewer, CapMerger, CapMonitor,
	}
	for _, c := range valid {
		if !c.Valid() {
			t.Errorf("Capability(%q).Valid() = false, want true", c)
		}
	}
	if Capability("manager").Valid() {
		t.Error("Capability(\"manager\").Valid() = true, want false")
	}
	if Capability("").Valid() {
		t.Error("empty capability should be invalid")
	}
}

func TestCapability_Persistent(t *testing.T) {
	tests := []struct {
		cap  Capability
		want bool
	}{
		{CapCoordinator, true},
		{CapMonitor, true},
		{CapBuilder, false},
		{CapScout, false},
		{CapSupervisor, false},
		{CapMerger, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.cap), func(t *testing.T) {
			if got := tt.cap.Persistent(); got != tt.want {
				t.Errorf("%s.Persistent() = %v, want %v", tt.cap, got, tt.want)
			}
			if got := tt.cap.RootOnly(); got != tt.want {
				t.Errorf("%s.RootOnly() = %v, want %v", tt.cap, got, tt.want)
			}
		})
	}
}
