package mtls

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"os"
	"testing"
)

func TestPeerAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedPeers []string
		cert         *x509.Certificate
		want         bool
	}{
		{
			name:         "empty allow list accepts any CA-signed peer",
			allowedPeers: nil,
			cert:         &x509.Certificate{Subject: pkix.Name{CommonName: "anything"}},
			want:         true,
		},
		{
			name:         "matches on common name",
			allowedPeers: []string{"gateway", "platformctl"},
			cert:         &x509.Certificate{Subject: pkix.Name{CommonName: "gateway"}},
			want:         true,
		},
		{
			name:         "matches on organization",
			allowedPeers: []string{"eventbus-worker"},
			cert:         &x509.Certificate{Subject: pkix.Name{CommonName: "whatever", Organization: []string{"eventbus-worker"}}},
			want:         true,
		},
		{
			name:         "rejects unlisted peer",
			allowedPeers: []string{"gateway"},
			cert:         &x509.Certificate{Subject: pkix.Name{CommonName: "workflow-worker"}},
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{AllowedPeers: tt.allowedPeers}
			if got := c.peerAllowed(tt.cert); got != tt.want {
				t.Errorf("peerAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyPeerRejectsEmptyChain(t *testing.T) {
	c := &Config{ServiceName: "eventbus-worker", AllowedPeers: []string{"gateway"}}
	if err := c.verifyPeer(nil, nil); err == nil {
		t.Error("expected an error when no verified chains are present")
	}
}

func TestVerifyPeerEnforcesAllowedPeers(t *testing.T) {
	c := &Config{ServiceName: "eventbus-worker", AllowedPeers: []string{"gateway"}}
	chains := [][]*x509.Certificate{{{Subject: pkix.Name{CommonName: "workflow-worker"}}}}
	if err := c.verifyPeer(nil, chains); err == nil {
		t.Error("expected an error for a peer outside AllowedPeers")
	}

	chains = [][]*x509.Certificate{{{Subject: pkix.Name{CommonName: "gateway"}}}}
	if err := c.verifyPeer(nil, chains); err != nil {
		t.Errorf("expected no error for an allowed peer, got %v", err)
	}
}

func TestLoadFromEnvParsesAllowedPeers(t *testing.T) {
	os.Setenv("MTLS_ENABLED", "true")
	os.Setenv("MTLS_ALLOWED_PEERS", "gateway, platformctl ,workflow-worker")
	defer os.Unsetenv("MTLS_ENABLED")
	defer os.Unsetenv("MTLS_ALLOWED_PEERS")

	cfg := LoadFromEnv()
	if !cfg.Enabled {
		t.Fatal("expected mTLS to be enabled")
	}
	want := []string{"gateway", "platformctl", "workflow-worker"}
	if len(cfg.AllowedPeers) != len(want) {
		t.Fatalf("expected %d allowed peers, got %v", len(want), cfg.AllowedPeers)
	}
	for i, peer := range want {
		if cfg.AllowedPeers[i] != peer {
			t.Errorf("expected peer %d to be %q, got %q", i, peer, cfg.AllowedPeers[i])
		}
	}
}

func TestClientTransportDisabled(t *testing.T) {
	c := &Config{Enabled: false}
	transport, err := c.ClientTransport()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transport != nil {
		t.Error("expected a nil transport when mTLS is disabled")
	}
}
