package engine

import (
	"testing"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RPC_URL", "https://rpc.example")
	t.Setenv("RPC_WS_URL", "wss://rpc.example/ws")
	t.Setenv("ESCROW_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("MULTICALL_ADDRESS", "")
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		valid bool
	}{
		{"complete", nil, true},
		{"missing rpc url", map[string]string{"RPC_URL": ""}, false},
		{"missing ws url", map[string]string{"RPC_WS_URL": ""}, false},
		{"bad escrow address", map[string]string{"ESCROW_ADDRESS": "nothex"}, false},
		{"bad multicall address", map[string]string{"MULTICALL_ADDRESS": "nothex"}, false},
		{"with multicall", map[string]string{
			"MULTICALL_ADDRESS": "0x2222222222222222222222222222222222222222",
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			e, err := New()
			if tt.valid {
				if err != nil {
					t.Fatalf("New() = %v, want a wired engine", err)
				}
				if e.Bus() == nil {
					t.Fatal("engine built without a bus")
				}
			} else if err == nil {
				t.Fatal("New() accepted invalid configuration")
			}
		})
	}
}

func TestStatusBeforeInitialize(t *testing.T) {
	setBaseEnv(t)

	e, err := New()
	if err != nil {
		t.Fatal(err)
	}

	s := e.Status()
	if s.ConnState != "disconnected" {
		t.Fatalf("conn state = %q before initialize, want disconnected", s.ConnState)
	}
	if s.CacheSize != 0 {
		t.Fatalf("cache size = %d before initialize, want 0", s.CacheSize)
	}
}
