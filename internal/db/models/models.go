package models

import "time"

// BootRecord is one BootNotification received from the wallbox.
type BootRecord struct {
	ID              string    `json:"id"`
	Model           string    `json:"model"`
	Vendor          string    `json:"vendor"`
	SerialNumber    string    `json:"serial_number"`
	FirmwareVersion string    `json:"firmware_version"`
	Reason          string    `json:"reason"`
	ReceivedAt      time.Time `json:"received_at"`
}

// TransactionEventRecord is one TransactionEvent received from the wallbox.
type TransactionEventRecord struct {
	ID             string    `json:"id"`
	TransactionID  string    `json:"transaction_id"`
	EventType      string    `json:"event_type"`
	TriggerReason  string    `json:"trigger_reason"`
	ChargingState  string    `json:"charging_state"`
	StoppedReason  string    `json:"stopped_reason"`
	SequenceNumber int       `json:"sequence_number"`
	PowerW         float64   `json:"power_w"`
	ReceivedAt     time.Time `json:"received_at"`
}

// MeterSampleRecord is one sampled measurement from a MeterValues message.
type MeterSampleRecord struct {
	ID         string    `json:"id"`
	Measurand  string    `json:"measurand"`
	Value      float64   `json:"value"`
	Phase      string    `json:"phase"`
	Context    string    `json:"context"`
	ReceivedAt time.Time `json:"received_at"`
}

// CommandRecord is the outcome of one command protocol invocation.
type CommandRecord struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Success    bool      `json:"success"`
	Action     string    `json:"action"`
	Message    string    `json:"message"`
	ExecutedAt time.Time `json:"executed_at"`
}
