package state

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// Sample is a single sampled measurement from a MeterValues or TransactionEvent
// payload, flattened to the fields the reducer cares about.
type Sample struct {
	Measurand string
	Value     float64
	Phase     string
	Context   string
	Location  string
}

// Reduce applies a batch of samples to the session, then runs the batch
// post-processing derivations. It is the single reducer for both MeterValues
// and TransactionEvent meter payloads.
func Reduce(s *Session, samples []Sample) {
	for _, sample := range samples {
		applySample(s, sample)
	}
	postProcess(s)
}

func applySample(s *Session, sample Sample) {
	if sample.Context != "" {
		s.Context = sample.Context
	}
	if sample.Location != "" {
		s.Location = sample.Location
	}

	v := sample.Value

	switch sample.Measurand {
	case "Power.Active.Import", "":
		// An absent measurand defaults to Power.Active.Import per OCPP.
		s.PowerW = v
	case "Power.Active.Export":
		s.PowerActiveExport = &v
	case "Power.Reactive.Import":
		s.PowerReactiveImport = &v
	case "Power.Reactive.Export":
		s.PowerReactiveExport = &v
	case "Power.Offered":
		s.PowerOffered = &v
	case "Power.Factor":
		s.PowerFactor = &v
	case "Energy.Active.Import.Register":
		// Session energy tracks the raw report; the cumulative total is
		// guarded so a wallbox reboot reporting 0 cannot wipe the meter.
		s.EnergySessionWh = v
		newKWh := v / 1000.0
		if newKWh > 0 && (s.EnergyTotalKWh == nil || newKWh >= *s.EnergyTotalKWh) {
			s.EnergyTotalKWh = &newKWh
		} else {
			log.WithFields(log.Fields{
				"reported_kwh": newKWh,
				"current_kwh":  derefOrZero(s.EnergyTotalKWh),
			}).Debug("Discarding non-monotonic total energy reading")
		}
	case "Energy.Active.Export.Register":
		kwh := v / 1000.0
		s.EnergyActiveExport = &kwh
	case "Energy.Reactive.Import.Register":
		kwh := v / 1000.0
		s.EnergyReactiveImport = &kwh
	case "Energy.Reactive.Export.Register":
		kwh := v / 1000.0
		s.EnergyReactiveExport = &kwh
	case "Current.Import":
		switch sample.Phase {
		case "L1", "L1-N":
			s.CurrentL1 = &v
		case "L2", "L2-N":
			s.CurrentL2 = &v
		case "L3", "L3-N":
			s.CurrentL3 = &v
		default:
			s.Current = v
		}
	case "Voltage":
		switch sample.Phase {
		case "L1", "L1-N":
			s.VoltageL1 = &v
		case "L2", "L2-N":
			s.VoltageL2 = &v
		case "L3", "L3-N":
			s.VoltageL3 = &v
		default:
			s.Voltage = v
		}
	case "Frequency":
		s.Frequency = &v
	case "Temperature":
		s.Temperature = &v
	default:
		log.WithFields(log.Fields{
			"measurand": sample.Measurand,
			"value":     v,
		}).Debug("Ignoring unhandled measurand")
	}
}

// postProcess fills in values the wallbox does not always report directly.
func postProcess(s *Session) {
	if s.Voltage == 0 {
		if s.PowerW > 0 {
			// Charging with no voltage report: assume single-phase EU grid.
			s.Voltage = 230.0
		} else if avg, ok := average(s.VoltageL1, s.VoltageL2, s.VoltageL3); ok {
			s.Voltage = avg
		}
	}

	if s.Current == 0 {
		if avg, ok := average(s.CurrentL1, s.CurrentL2, s.CurrentL3); ok {
			s.Current = avg
		}
	}
	if s.Current == 0 && s.PowerW > 0 && s.Voltage > 0 {
		divisor := s.Voltage
		if s.PhasesUsed == 3 {
			divisor *= math.Sqrt(3)
		}
		s.Current = math.Round(s.PowerW/divisor*10) / 10
	}

	if s.ConnectorStatus == ConnectorStatusUnknown {
		switch s.ChargingState {
		case ChargingStateCharging, ChargingStateSuspendedEV, ChargingStateSuspendedEVSE, ChargingStateEVConnected:
			s.ConnectorStatus = ConnectorStatusOccupied
		case ChargingStateAvailable:
			s.ConnectorStatus = ConnectorStatusAvailable
		case ChargingStateFaulted:
			s.ConnectorStatus = ConnectorStatusFaulted
		}
	}
}

// average returns the mean of the non-nil, positive values.
func average(values ...*float64) (float64, bool) {
	var sum float64
	var n int
	for _, v := range values {
		if v != nil && *v > 0 {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func derefOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
