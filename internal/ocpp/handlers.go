package ocpp

import (
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/availability"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/meter"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/provisioning"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/security"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/types"
	log "github.com/sirupsen/logrus"

	"github.com/evhome/wallbox-csms/internal/db/models"
	"github.com/evhome/wallbox-csms/internal/metrics"
	"github.com/evhome/wallbox-csms/internal/state"
)

// wallboxHandler receives inbound OCPP messages. The library invokes it
// sequentially per connection, so handlers never race each other; the store
// lock covers races with concurrently running command protocols.
type wallboxHandler struct {
	central *CentralSystem
}

func (h *wallboxHandler) OnBootNotification(chargingStationID string, request *provisioning.BootNotificationRequest) (*provisioning.BootNotificationResponse, error) {
	metrics.MessagesReceived.WithLabelValues("BootNotification").Inc()

	info := state.DeviceInfo{
		Model:           orUnknown(request.ChargingStation.Model),
		Vendor:          orUnknown(request.ChargingStation.VendorName),
		SerialNumber:    orUnknown(request.ChargingStation.SerialNumber),
		FirmwareVersion: orUnknown(request.ChargingStation.FirmwareVersion),
	}
	h.central.store.SetDeviceInfo(info)

	log.WithFields(log.Fields{
		"chargePointId": chargingStationID,
		"model":         info.Model,
		"vendor":        info.Vendor,
		"firmware":      info.FirmwareVersion,
		"reason":        request.Reason,
	}).Info("Boot notification received")

	h.central.journal.RecordBoot(models.BootRecord{
		Model:           info.Model,
		Vendor:          info.Vendor,
		SerialNumber:    info.SerialNumber,
		FirmwareVersion: info.FirmwareVersion,
		Reason:          string(request.Reason),
	})

	return &provisioning.BootNotificationResponse{
		CurrentTime: types.NewDateTime(time.Now()),
		Interval:    h.central.config.HeartbeatInterval,
		Status:      provisioning.RegistrationStatusAccepted,
	}, nil
}

func (h *wallboxHandler) OnNotifyReport(chargingStationID string, request *provisioning.NotifyReportRequest) (*provisioning.NotifyReportResponse, error) {
	metrics.MessagesReceived.WithLabelValues("NotifyReport").Inc()
	log.WithField("chargePointId", chargingStationID).Debug("Notify report received")
	return &provisioning.NotifyReportResponse{}, nil
}

func (h *wallboxHandler) OnHeartbeat(chargingStationID string, request *availability.HeartbeatRequest) (*availability.HeartbeatResponse, error) {
	metrics.MessagesReceived.WithLabelValues("Heartbeat").Inc()

	now := time.Now()
	h.central.store.Update(func(s *state.Session) {
		s.Connected = true
		s.LastHeartbeat = &now
	})

	log.WithField("chargePointId", chargingStationID).Debug("Heartbeat received")
	return &availability.HeartbeatResponse{CurrentTime: *types.NewDateTime(now)}, nil
}

func (h *wallboxHandler) OnStatusNotification(chargingStationID string, request *availability.StatusNotificationRequest) (*availability.StatusNotificationResponse, error) {
	metrics.MessagesReceived.WithLabelValues("StatusNotification").Inc()

	h.central.store.Update(func(s *state.Session) {
		s.ConnectorStatus = state.ConnectorStatus(request.ConnectorStatus)
		s.EvseID = request.EvseID
		s.ConnectorID = request.ConnectorID
	})

	log.WithFields(log.Fields{
		"chargePointId": chargingStationID,
		"status":        request.ConnectorStatus,
		"evseId":        request.EvseID,
		"connectorId":   request.ConnectorID,
	}).Info("Status notification received")

	return &availability.StatusNotificationResponse{}, nil
}

func (h *wallboxHandler) OnMeterValues(chargingStationID string, request *meter.MeterValuesRequest) (*meter.MeterValuesResponse, error) {
	metrics.MessagesReceived.WithLabelValues("MeterValues").Inc()

	samples := flattenMeterValues(request.MeterValue)
	h.central.store.ApplyTelemetry(samples)
	for _, sample := range samples {
		h.central.journal.RecordMeterSample(models.MeterSampleRecord{
			Measurand: sample.Measurand,
			Value:     sample.Value,
			Phase:     sample.Phase,
			Context:   sample.Context,
		})
	}

	log.WithFields(log.Fields{
		"chargePointId": chargingStationID,
		"samples":       len(samples),
	}).Debug("Meter values received")

	return &meter.MeterValuesResponse{}, nil
}

func (h *wallboxHandler) OnTransactionEvent(chargingStationID string, request *transactions.TransactionEventRequest) (*transactions.TransactionEventResponse, error) {
	metrics.MessagesReceived.WithLabelValues("TransactionEvent").Inc()

	samples := flattenMeterValues(request.MeterValue)
	now := time.Now()

	h.central.store.Update(func(s *state.Session) {
		if request.TransactionInfo.TransactionID != "" {
			s.TransactionID = request.TransactionInfo.TransactionID
		}
		if request.TransactionInfo.ChargingState != "" {
			s.ChargingState = state.ChargingState(request.TransactionInfo.ChargingState)
		}
		if request.TransactionInfo.StoppedReason != "" {
			s.StoppedReason = string(request.TransactionInfo.StoppedReason)
		}
		s.EventType = string(request.EventType)
		s.TriggerReason = string(request.TriggerReason)
		s.SequenceNumber = request.SequenceNo
		s.LastUpdate = &now
		if request.IDToken != nil {
			s.IDToken = request.IDToken.IdToken
			s.IDTokenType = string(request.IDToken.Type)
		}
		if request.NumberOfPhasesUsed != nil && *request.NumberOfPhasesUsed > 0 {
			s.PhasesUsed = *request.NumberOfPhasesUsed
		}
		state.Reduce(s, samples)
	})

	snap := h.central.store.Snapshot()
	log.WithFields(log.Fields{
		"chargePointId": chargingStationID,
		"eventType":     request.EventType,
		"transactionId": request.TransactionInfo.TransactionID,
		"chargingState": request.TransactionInfo.ChargingState,
		"powerW":        snap.PowerW,
	}).Info("Transaction event received")

	h.central.journal.RecordTransactionEvent(models.TransactionEventRecord{
		TransactionID:  snap.TransactionID,
		EventType:      snap.EventType,
		TriggerReason:  snap.TriggerReason,
		ChargingState:  string(snap.ChargingState),
		StoppedReason:  snap.StoppedReason,
		SequenceNumber: snap.SequenceNumber,
		PowerW:         snap.PowerW,
	})

	return &transactions.TransactionEventResponse{}, nil
}

func (h *wallboxHandler) OnSecurityEventNotification(chargingStationID string, request *security.SecurityEventNotificationRequest) (*security.SecurityEventNotificationResponse, error) {
	metrics.MessagesReceived.WithLabelValues("SecurityEventNotification").Inc()
	log.WithFields(log.Fields{
		"chargePointId": chargingStationID,
		"type":          request.Type,
	}).Info("Security event notification received")
	return &security.SecurityEventNotificationResponse{}, nil
}

func (h *wallboxHandler) OnSignCertificate(chargingStationID string, request *security.SignCertificateRequest) (*security.SignCertificateResponse, error) {
	metrics.MessagesReceived.WithLabelValues("SignCertificate").Inc()
	// Certificate signing is not supported; the station keeps its material.
	return &security.SignCertificateResponse{Status: types.GenericStatusRejected}, nil
}

// flattenMeterValues converts the library's nested meter structures into the
// reducer's flat sample form.
func flattenMeterValues(meterValues []types.MeterValue) []state.Sample {
	var samples []state.Sample
	for _, mv := range meterValues {
		for _, sv := range mv.SampledValue {
			samples = append(samples, state.Sample{
				Measurand: string(sv.Measurand),
				Value:     sv.Value,
				Phase:     string(sv.Phase),
				Context:   string(sv.Context),
				Location:  string(sv.Location),
			})
		}
	}
	return samples
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
