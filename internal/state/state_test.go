package state

import (
	"testing"
	"time"
)

func TestNewStoreDefaults(t *testing.T) {
	st := NewStore(16)
	snap := st.Snapshot()

	if snap.ChargingState != ChargingStateUnknown {
		t.Errorf("ChargingState = %v, want Unknown", snap.ChargingState)
	}
	if snap.ConnectorStatus != ConnectorStatusUnknown {
		t.Errorf("ConnectorStatus = %v, want Unknown", snap.ConnectorStatus)
	}
	if snap.EvseID != 1 || snap.ConnectorID != 1 || snap.PhasesUsed != 1 {
		t.Errorf("EvseID/ConnectorID/PhasesUsed = %d/%d/%d, want 1/1/1", snap.EvseID, snap.ConnectorID, snap.PhasesUsed)
	}
	if snap.LedBrightness != 46 {
		t.Errorf("LedBrightness = %d, want 46", snap.LedBrightness)
	}
	if snap.CurrentLimitA != 16 {
		t.Errorf("CurrentLimitA = %v, want 16", snap.CurrentLimitA)
	}
	if snap.Connected {
		t.Error("Connected = true, want false at boot")
	}
}

func TestUpdatePublishesSnapshot(t *testing.T) {
	st := NewStore(32)
	st.Update(func(s *Session) {
		s.TransactionID = "tx-1"
	})

	select {
	case snap := <-st.Updates():
		if snap.TransactionID != "tx-1" {
			t.Errorf("TransactionID = %q, want tx-1", snap.TransactionID)
		}
	default:
		t.Fatal("no snapshot published after update")
	}
}

func TestAlive(t *testing.T) {
	now := time.Now()
	recent := now.Add(-10 * time.Second)
	stale := now.Add(-45 * time.Second)

	tests := []struct {
		name      string
		connected bool
		heartbeat *time.Time
		want      bool
	}{
		{"connected flag up", true, nil, true},
		{"recent heartbeat without flag", false, &recent, true},
		{"stale heartbeat without flag", false, &stale, false},
		{"no signal at all", false, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewStore(32)
			st.Update(func(s *Session) {
				s.Connected = tt.connected
				s.LastHeartbeat = tt.heartbeat
			})
			if got := st.Alive(now); got != tt.want {
				t.Errorf("Alive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeviceInfoRoundTrip(t *testing.T) {
	st := NewStore(32)
	st.SetDeviceInfo(DeviceInfo{Model: "EIAW-E22KTSE6B04", Vendor: "Unknown", SerialNumber: "123", FirmwareVersion: "1.2.3"})

	dev := st.Device()
	if dev.Model != "EIAW-E22KTSE6B04" {
		t.Errorf("Model = %q, want EIAW-E22KTSE6B04", dev.Model)
	}
	if dev.FirmwareVersion != "1.2.3" {
		t.Errorf("FirmwareVersion = %q, want 1.2.3", dev.FirmwareVersion)
	}
}
