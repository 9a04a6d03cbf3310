package state

import (
	"testing"
)

func TestEnergyGuardMonotonicity(t *testing.T) {
	tests := []struct {
		name    string
		samples [][]Sample
		want    float64
	}{
		{
			name: "reboot zero reading is discarded",
			samples: [][]Sample{
				{{Measurand: "Energy.Active.Import.Register", Value: 25500}},
				{{Measurand: "Energy.Active.Import.Register", Value: 0}},
			},
			want: 25.5,
		},
		{
			name: "regression is discarded",
			samples: [][]Sample{
				{{Measurand: "Energy.Active.Import.Register", Value: 25500}},
				{{Measurand: "Energy.Active.Import.Register", Value: 12000}},
			},
			want: 25.5,
		},
		{
			name: "increase is applied",
			samples: [][]Sample{
				{{Measurand: "Energy.Active.Import.Register", Value: 25500}},
				{{Measurand: "Energy.Active.Import.Register", Value: 26000}},
			},
			want: 26.0,
		},
		{
			name: "equal reading is applied",
			samples: [][]Sample{
				{{Measurand: "Energy.Active.Import.Register", Value: 25500}},
				{{Measurand: "Energy.Active.Import.Register", Value: 25500}},
			},
			want: 25.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{}
			for _, batch := range tt.samples {
				Reduce(s, batch)
			}
			if s.EnergyTotalKWh == nil {
				t.Fatal("EnergyTotalKWh is nil, want a value")
			}
			if *s.EnergyTotalKWh != tt.want {
				t.Errorf("EnergyTotalKWh = %v, want %v", *s.EnergyTotalKWh, tt.want)
			}
		})
	}
}

func TestSessionEnergyIgnoresGuard(t *testing.T) {
	s := &Session{}
	Reduce(s, []Sample{{Measurand: "Energy.Active.Import.Register", Value: 25500}})
	Reduce(s, []Sample{{Measurand: "Energy.Active.Import.Register", Value: 0}})

	if s.EnergySessionWh != 0 {
		t.Errorf("EnergySessionWh = %v, want 0 (raw value always applied)", s.EnergySessionWh)
	}
}

func TestDerivedVoltageAndCurrent(t *testing.T) {
	s := &Session{PhasesUsed: 1}
	Reduce(s, []Sample{{Measurand: "Power.Active.Import", Value: 7200}})

	if s.Voltage != 230.0 {
		t.Errorf("Voltage = %v, want 230.0", s.Voltage)
	}
	if s.Current < 31.2 || s.Current > 31.4 {
		t.Errorf("Current = %v, want in [31.2, 31.4]", s.Current)
	}
}

func TestDerivedCurrentThreePhase(t *testing.T) {
	s := &Session{PhasesUsed: 3}
	Reduce(s, []Sample{
		{Measurand: "Power.Active.Import", Value: 11000},
		{Measurand: "Voltage", Value: 400},
	})

	// 11000 / (400 * sqrt(3)) = 15.877 -> 15.9
	if s.Current != 15.9 {
		t.Errorf("Current = %v, want 15.9", s.Current)
	}
}

func TestVoltageAveragedFromPhases(t *testing.T) {
	s := &Session{PhasesUsed: 3}
	Reduce(s, []Sample{
		{Measurand: "Voltage", Value: 230, Phase: "L1"},
		{Measurand: "Voltage", Value: 232, Phase: "L2"},
		{Measurand: "Voltage", Value: 234, Phase: "L3"},
	})

	if s.Voltage != 232 {
		t.Errorf("Voltage = %v, want 232", s.Voltage)
	}
}

func TestCurrentAveragedFromPhases(t *testing.T) {
	s := &Session{PhasesUsed: 3}
	Reduce(s, []Sample{
		{Measurand: "Current.Import", Value: 15, Phase: "L1-N"},
		{Measurand: "Current.Import", Value: 16, Phase: "L2-N"},
		{Measurand: "Current.Import", Value: 17, Phase: "L3-N"},
	})

	if s.CurrentL1 == nil || *s.CurrentL1 != 15 {
		t.Errorf("CurrentL1 = %v, want 15", s.CurrentL1)
	}
	if s.Current != 16 {
		t.Errorf("Current = %v, want 16", s.Current)
	}
}

func TestConnectorStatusDerivation(t *testing.T) {
	tests := []struct {
		name     string
		charging ChargingState
		initial  ConnectorStatus
		want     ConnectorStatus
	}{
		{"charging means occupied", ChargingStateCharging, ConnectorStatusUnknown, ConnectorStatusOccupied},
		{"suspended ev means occupied", ChargingStateSuspendedEV, ConnectorStatusUnknown, ConnectorStatusOccupied},
		{"suspended evse means occupied", ChargingStateSuspendedEVSE, ConnectorStatusUnknown, ConnectorStatusOccupied},
		{"ev connected means occupied", ChargingStateEVConnected, ConnectorStatusUnknown, ConnectorStatusOccupied},
		{"available maps to available", ChargingStateAvailable, ConnectorStatusUnknown, ConnectorStatusAvailable},
		{"faulted maps to faulted", ChargingStateFaulted, ConnectorStatusUnknown, ConnectorStatusFaulted},
		{"idle stays unknown", ChargingStateIdle, ConnectorStatusUnknown, ConnectorStatusUnknown},
		{"known status is not overwritten", ChargingStateCharging, ConnectorStatusAvailable, ConnectorStatusAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ChargingState: tt.charging, ConnectorStatus: tt.initial}
			Reduce(s, nil)
			if s.ConnectorStatus != tt.want {
				t.Errorf("ConnectorStatus = %v, want %v", s.ConnectorStatus, tt.want)
			}
		})
	}
}

func TestMeasurandDispatch(t *testing.T) {
	s := &Session{PhasesUsed: 1}
	Reduce(s, []Sample{
		{Measurand: "Power.Offered", Value: 7400},
		{Measurand: "Frequency", Value: 50.1},
		{Measurand: "Temperature", Value: 31.5},
		{Measurand: "Energy.Active.Export.Register", Value: 500},
		{Measurand: "Voltage", Value: 229, Phase: "L1"},
		{Measurand: "Something.Unknown", Value: 1},
	})

	if s.PowerOffered == nil || *s.PowerOffered != 7400 {
		t.Errorf("PowerOffered = %v, want 7400", s.PowerOffered)
	}
	if s.Frequency == nil || *s.Frequency != 50.1 {
		t.Errorf("Frequency = %v, want 50.1", s.Frequency)
	}
	if s.Temperature == nil || *s.Temperature != 31.5 {
		t.Errorf("Temperature = %v, want 31.5", s.Temperature)
	}
	if s.EnergyActiveExport == nil || *s.EnergyActiveExport != 0.5 {
		t.Errorf("EnergyActiveExport = %v, want 0.5", s.EnergyActiveExport)
	}
	if s.VoltageL1 == nil || *s.VoltageL1 != 229 {
		t.Errorf("VoltageL1 = %v, want 229", s.VoltageL1)
	}
}

func TestContextAndLocationLastWriteWins(t *testing.T) {
	s := &Session{}
	Reduce(s, []Sample{
		{Measurand: "Power.Active.Import", Value: 0, Context: "Sample.Periodic", Location: "Outlet"},
		{Measurand: "Frequency", Value: 50, Context: "Transaction.Begin"},
	})

	if s.Context != "Transaction.Begin" {
		t.Errorf("Context = %q, want Transaction.Begin", s.Context)
	}
	if s.Location != "Outlet" {
		t.Errorf("Location = %q, want Outlet", s.Location)
	}
}
