package session

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInit, StateConnecting, true},
		{StateConnecting, StateConnected, true},
		{StateConnected, StateSubscribed, true},
		{StateSubscribed, StateLost, true},
		{StateConnected, StateLost, true},
		{StateSubscribed, StateClosed, true},
		{StateInit, StateClosed, true},
		{StateConnecting, StateClosed, true},
		{StateInit, StateSubscribed, false},
		{StateConnecting, StateLost, false},
		{StateSubscribed, StateConnecting, false},
		{StateLost, StateClosed, false},
		{StateClosed, StateLost, false},
		{StateClosed, StateConnecting, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := canTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateInit, StateConnecting, StateConnected, StateSubscribed} {
		if s.Terminal() || !s.Live() {
			t.Errorf("%s should be live", s)
		}
	}
	for _, s := range []State{StateLost, StateClosed} {
		if !s.Terminal() || s.Live() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
