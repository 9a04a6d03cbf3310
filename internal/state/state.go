package state

import (
	"sync"
	"time"
)

// ChargingState mirrors the OCPP 2.0.1 transaction charging state.
type ChargingState string

const (
	ChargingStateUnknown       ChargingState = "Unknown"
	ChargingStateAvailable     ChargingState = "Available"
	ChargingStatePreparing     ChargingState = "Preparing"
	ChargingStateCharging      ChargingState = "Charging"
	ChargingStateSuspendedEV   ChargingState = "SuspendedEV"
	ChargingStateSuspendedEVSE ChargingState = "SuspendedEVSE"
	ChargingStateEVConnected   ChargingState = "EVConnected"
	ChargingStateIdle          ChargingState = "Idle"
	ChargingStateFinishing     ChargingState = "Finishing"
	ChargingStateReserved      ChargingState = "Reserved"
	ChargingStateUnavailable   ChargingState = "Unavailable"
	ChargingStateFaulted       ChargingState = "Faulted"
)

// ConnectorStatus mirrors the OCPP 2.0.1 connector status.
type ConnectorStatus string

const (
	ConnectorStatusUnknown     ConnectorStatus = "Unknown"
	ConnectorStatusAvailable   ConnectorStatus = "Available"
	ConnectorStatusOccupied    ConnectorStatus = "Occupied"
	ConnectorStatusReserved    ConnectorStatus = "Reserved"
	ConnectorStatusUnavailable ConnectorStatus = "Unavailable"
	ConnectorStatusFaulted     ConnectorStatus = "Faulted"
)

// heartbeatWindow is how recent the last heartbeat must be for the wallbox to
// count as alive even if the transport flag lags behind.
const heartbeatWindow = 30 * time.Second

// Session is the canonical runtime state of the charging session. There is one
// record per server; the OCPP receive loop is its single writer, UI-facing
// consumers read copies of it.
type Session struct {
	Connected     bool       `json:"connected"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`

	ChargingState ChargingState `json:"chargingState"`
	TransactionID string        `json:"transactionId,omitempty"`

	PowerW          float64  `json:"powerW"`
	EnergySessionWh float64  `json:"energySessionWh"`
	EnergyTotalKWh  *float64 `json:"energyTotalKWh,omitempty"` // nil until first valid reading
	Current         float64  `json:"current"`
	Voltage         float64  `json:"voltage"`

	ConnectorStatus ConnectorStatus `json:"connectorStatus"`
	EvseID          int             `json:"evseId"`
	ConnectorID     int             `json:"connectorId"`
	PhasesUsed      int             `json:"phasesUsed"`

	EventType      string     `json:"eventType,omitempty"`
	TriggerReason  string     `json:"triggerReason,omitempty"`
	StoppedReason  string     `json:"stoppedReason,omitempty"`
	SequenceNumber int        `json:"sequenceNumber"`
	LastUpdate     *time.Time `json:"lastUpdate,omitempty"`
	IDToken        string     `json:"idToken,omitempty"`
	IDTokenType    string     `json:"idTokenType,omitempty"`
	Context        string     `json:"context,omitempty"`
	Location       string     `json:"location,omitempty"`

	// Additional power measurements
	PowerActiveExport   *float64 `json:"powerActiveExport,omitempty"`
	PowerReactiveImport *float64 `json:"powerReactiveImport,omitempty"`
	PowerReactiveExport *float64 `json:"powerReactiveExport,omitempty"`
	PowerOffered        *float64 `json:"powerOffered,omitempty"`
	PowerFactor         *float64 `json:"powerFactor,omitempty"`

	// Additional energy measurements (kWh)
	EnergyActiveExport   *float64 `json:"energyActiveExport,omitempty"`
	EnergyReactiveImport *float64 `json:"energyReactiveImport,omitempty"`
	EnergyReactiveExport *float64 `json:"energyReactiveExport,omitempty"`

	// Per-phase measurements
	CurrentL1 *float64 `json:"currentL1,omitempty"`
	CurrentL2 *float64 `json:"currentL2,omitempty"`
	CurrentL3 *float64 `json:"currentL3,omitempty"`
	VoltageL1 *float64 `json:"voltageL1,omitempty"`
	VoltageL2 *float64 `json:"voltageL2,omitempty"`
	VoltageL3 *float64 `json:"voltageL3,omitempty"`

	// Other measurements
	Frequency   *float64 `json:"frequency,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	// Configurable settings
	LedBrightness int     `json:"ledBrightness"`
	CurrentLimitA float64 `json:"currentLimitA"`
}

// DeviceInfo is the identity record reported by BootNotification. It is kept
// separate from the session state because it describes the hardware, not the
// charging session.
type DeviceInfo struct {
	Model           string `json:"model"`
	Vendor          string `json:"vendor"`
	SerialNumber    string `json:"serialNumber"`
	FirmwareVersion string `json:"firmwareVersion"`
}

// Store holds the session state behind a mutex. Inbound message handlers run
// sequentially on the receive loop, but command protocols run concurrently
// with them, so every access goes through the lock.
type Store struct {
	mu      sync.RWMutex
	session Session
	device  DeviceInfo

	updates chan Session
}

// NewStore creates a store with boot defaults. The current limit is seeded
// from configuration and survives pause/resume cycles.
func NewStore(currentLimitA float64) *Store {
	return &Store{
		session: Session{
			ChargingState:   ChargingStateUnknown,
			ConnectorStatus: ConnectorStatusUnknown,
			EvseID:          1,
			ConnectorID:     1,
			PhasesUsed:      1,
			LedBrightness:   46, // default from the capabilities report
			CurrentLimitA:   currentLimitA,
		},
		updates: make(chan Session, 16),
	}
}

// Snapshot returns a copy of the current session state.
func (st *Store) Snapshot() Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.session
}

// Update applies fn to the session state under the write lock and publishes
// the resulting snapshot to subscribers.
func (st *Store) Update(fn func(*Session)) {
	st.mu.Lock()
	fn(&st.session)
	snap := st.session
	st.mu.Unlock()

	// Best-effort publish; a slow subscriber must not stall the receive loop.
	select {
	case st.updates <- snap:
	default:
	}
}

// Updates returns the channel of snapshots emitted after each state change.
func (st *Store) Updates() <-chan Session {
	return st.updates
}

// ApplyTelemetry runs the telemetry reducer over a batch of samples.
func (st *Store) ApplyTelemetry(samples []Sample) {
	st.Update(func(s *Session) {
		Reduce(s, samples)
	})
}

// Alive reports whether the wallbox is considered connected: either the
// transport flag is up or a heartbeat arrived within the last 30 seconds.
func (st *Store) Alive(now time.Time) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.session.Connected {
		return true
	}
	return st.session.LastHeartbeat != nil && now.Sub(*st.session.LastHeartbeat) < heartbeatWindow
}

// SetDeviceInfo records the identity reported by BootNotification.
func (st *Store) SetDeviceInfo(info DeviceInfo) {
	st.mu.Lock()
	st.device = info
	st.mu.Unlock()
}

// Device returns the last reported device identity.
func (st *Store) Device() DeviceInfo {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.device
}
