package ocpp

import (
	"context"
	"fmt"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/provisioning"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/remotecontrol"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/transactions"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/types"
	log "github.com/sirupsen/logrus"
)

// callTimeout bounds every outbound call to the wallbox.
const callTimeout = 15 * time.Second

// Charging profile constants the wallbox firmware expects.
const (
	txProfileID   = 999
	txScheduleID  = 1
	defaultEvseID = 1
)

// RequestStart asks the wallbox to start a transaction. It authorizes with
// the configured RFID token when present, otherwise with no authorization.
// Returns the response status and the transaction id if the wallbox assigned
// one immediately.
func (cs *CentralSystem) RequestStart(ctx context.Context, remoteStartID int) (string, string, error) {
	clientID, err := cs.clientID()
	if err != nil {
		return "", "", err
	}

	idToken := types.IdToken{Type: types.IdTokenTypeNoAuthorization}
	if cs.config.RFIDToken != "" {
		idToken = types.IdToken{IdToken: cs.config.RFIDToken, Type: types.IdTokenTypeLocal}
	}

	type reply struct {
		resp *remotecontrol.RequestStartTransactionResponse
		err  error
	}
	ch := make(chan reply, 1)

	err = cs.csms.RequestStartTransaction(clientID, func(resp *remotecontrol.RequestStartTransactionResponse, err error) {
		ch <- reply{resp, err}
	}, remoteStartID, idToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to send RequestStartTransaction: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", "", ErrTimeout
	case r := <-ch:
		if r.err != nil {
			return "", "", r.err
		}
		return string(r.resp.Status), r.resp.TransactionID, nil
	}
}

// SetTxProfile installs a tx-profile limiting the transaction to limitA
// amperes. A zero limit pauses charging; the stack level distinguishes the
// base profile (0) from operator limit overrides (1).
func (cs *CentralSystem) SetTxProfile(ctx context.Context, txID string, limitA float64, stackLevel int) (string, string, error) {
	clientID, err := cs.clientID()
	if err != nil {
		return "", "", err
	}

	profile := &types.ChargingProfile{
		ID:                     txProfileID,
		StackLevel:             stackLevel,
		ChargingProfilePurpose: types.ChargingProfilePurposeTxProfile,
		ChargingProfileKind:    types.ChargingProfileKindAbsolute,
		TransactionID:          txID,
		ChargingSchedule: []types.ChargingSchedule{
			{
				ID:               txScheduleID,
				StartSchedule:    types.NewDateTime(time.Now()),
				ChargingRateUnit: types.ChargingRateUnitAmperes,
				ChargingSchedulePeriod: []types.ChargingSchedulePeriod{
					{StartPeriod: 0, Limit: limitA},
				},
			},
		},
	}

	type reply struct {
		resp *smartcharging.SetChargingProfileResponse
		err  error
	}
	ch := make(chan reply, 1)

	err = cs.csms.SetChargingProfile(clientID, func(resp *smartcharging.SetChargingProfileResponse, err error) {
		ch <- reply{resp, err}
	}, defaultEvseID, profile)
	if err != nil {
		return "", "", fmt.Errorf("failed to send SetChargingProfile: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", "", ErrTimeout
	case r := <-ch:
		if r.err != nil {
			return "", "", r.err
		}
		status := string(r.resp.Status)
		reason := ""
		if r.resp.StatusInfo != nil {
			reason = r.resp.StatusInfo.ReasonCode
		}
		log.WithFields(log.Fields{
			"transactionId": txID,
			"limitA":        limitA,
			"stackLevel":    stackLevel,
			"status":        describeStatus(status, reason),
		}).Debug("SetChargingProfile answered")
		return status, reason, nil
	}
}

// ClearProfiles removes all charging profiles from the wallbox so a fresh
// tx-profile starts from a clean priority stack.
func (cs *CentralSystem) ClearProfiles(ctx context.Context) error {
	clientID, err := cs.clientID()
	if err != nil {
		return err
	}

	ch := make(chan error, 1)
	err = cs.csms.ClearChargingProfile(clientID, func(resp *smartcharging.ClearChargingProfileResponse, err error) {
		ch <- err
	})
	if err != nil {
		return fmt.Errorf("failed to send ClearChargingProfile: %w", err)
	}

	select {
	case <-ctx.Done():
		return ErrTimeout
	case err := <-ch:
		return err
	}
}

// Reset reboots the wallbox immediately. The caller owns the resulting state
// changes; the device takes around a minute to come back.
func (cs *CentralSystem) Reset(ctx context.Context) (string, error) {
	clientID, err := cs.clientID()
	if err != nil {
		return "", err
	}

	type reply struct {
		resp *provisioning.ResetResponse
		err  error
	}
	ch := make(chan reply, 1)

	err = cs.csms.Reset(clientID, func(resp *provisioning.ResetResponse, err error) {
		ch <- reply{resp, err}
	}, provisioning.ResetTypeImmediate)
	if err != nil {
		return "", fmt.Errorf("failed to send Reset: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", ErrTimeout
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		return string(r.resp.Status), nil
	}
}

// TransactionOngoing asks the wallbox whether the given transaction is still
// running. A response without an ongoing indicator is treated as ongoing,
// matching the defensive "keep the known id" refresh semantics.
func (cs *CentralSystem) TransactionOngoing(ctx context.Context, txID string) (bool, error) {
	clientID, err := cs.clientID()
	if err != nil {
		return false, err
	}

	type reply struct {
		resp *transactions.GetTransactionStatusResponse
		err  error
	}
	ch := make(chan reply, 1)

	err = cs.csms.GetTransactionStatus(clientID, func(resp *transactions.GetTransactionStatusResponse, err error) {
		ch <- reply{resp, err}
	}, func(req *transactions.GetTransactionStatusRequest) {
		req.TransactionID = txID
	})
	if err != nil {
		return false, fmt.Errorf("failed to send GetTransactionStatus: %w", err)
	}

	select {
	case <-ctx.Done():
		return false, ErrTimeout
	case r := <-ch:
		if r.err != nil {
			return false, r.err
		}
		if r.resp.OngoingIndicator == nil {
			return true, nil
		}
		return *r.resp.OngoingIndicator, nil
	}
}

// TriggerMeterValues asks the wallbox to send a MeterValues message for the
// first connector. Anything but an accepted response is an error.
func (cs *CentralSystem) TriggerMeterValues(ctx context.Context) error {
	clientID, err := cs.clientID()
	if err != nil {
		return err
	}

	type reply struct {
		resp *remotecontrol.TriggerMessageResponse
		err  error
	}
	ch := make(chan reply, 1)

	connectorID := 1
	err = cs.csms.TriggerMessage(clientID, func(resp *remotecontrol.TriggerMessageResponse, err error) {
		ch <- reply{resp, err}
	}, remotecontrol.MessageTriggerMeterValues, func(req *remotecontrol.TriggerMessageRequest) {
		req.Evse = &types.EVSE{ID: defaultEvseID, ConnectorID: &connectorID}
	})
	if err != nil {
		return fmt.Errorf("failed to send TriggerMessage: %w", err)
	}

	select {
	case <-ctx.Done():
		return ErrTimeout
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if r.resp.Status != remotecontrol.TriggerMessageStatusAccepted {
			return fmt.Errorf("trigger message rejected: %s", r.resp.Status)
		}
		return nil
	}
}

// SetVariable sets a single device variable and returns the attribute status
// of the first result.
func (cs *CentralSystem) SetVariable(ctx context.Context, component, variable, value string) (string, error) {
	clientID, err := cs.clientID()
	if err != nil {
		return "", err
	}

	data := []provisioning.SetVariableData{
		{
			AttributeType:  types.AttributeActual,
			AttributeValue: value,
			Component:      types.Component{Name: component},
			Variable:       types.Variable{Name: variable},
		},
	}

	type reply struct {
		resp *provisioning.SetVariablesResponse
		err  error
	}
	ch := make(chan reply, 1)

	err = cs.csms.SetVariables(clientID, func(resp *provisioning.SetVariablesResponse, err error) {
		ch <- reply{resp, err}
	}, data)
	if err != nil {
		return "", fmt.Errorf("failed to send SetVariables: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", ErrTimeout
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		if len(r.resp.SetVariableResult) == 0 {
			return "", fmt.Errorf("empty SetVariables response")
		}
		return string(r.resp.SetVariableResult[0].AttributeStatus), nil
	}
}
