package ocpp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/evhome/wallbox-csms/config"
	"github.com/evhome/wallbox-csms/internal/state"
)

func TestStartRejectsMalformedTLSMaterial(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "fullchain.pem")
	key := filepath.Join(dir, "privkey.pem")
	if err := os.WriteFile(cert, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(key, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		ServerPort:    9000,
		TLSCertPath:   cert,
		TLSKeyPath:    key,
		ChargePointID: "wallbox-1",
	}
	cs := NewCentralSystem(cfg, state.NewStore(32), nil)

	if err := cs.Start(); err == nil {
		t.Fatal("Start() = nil, want error for malformed TLS material")
	}
}
