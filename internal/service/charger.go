package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/evhome/wallbox-csms/internal/db"
	"github.com/evhome/wallbox-csms/internal/db/models"
	"github.com/evhome/wallbox-csms/internal/metrics"
	"github.com/evhome/wallbox-csms/internal/state"
)

// commandTimeout bounds each individual outbound call issued by a command.
const commandTimeout = 10 * time.Second

// rebootWindow is how long a wallbox reset is given before we expect the
// station back online: roughly a minute of reboot plus reconnect time.
const rebootWindow = 90 * time.Second

// ChargePointClient is the outbound call surface a command protocol needs.
// *ocpp.CentralSystem implements it; tests substitute a scripted fake.
type ChargePointClient interface {
	Connected() bool
	RequestStart(ctx context.Context, remoteStartID int) (status, transactionID string, err error)
	SetTxProfile(ctx context.Context, transactionID string, limitA float64, stackLevel int) (status, reason string, err error)
	ClearProfiles(ctx context.Context) error
	Reset(ctx context.Context) (status string, err error)
	TransactionOngoing(ctx context.Context, transactionID string) (bool, error)
	TriggerMeterValues(ctx context.Context) error
	SetVariable(ctx context.Context, component, variable, value string) (status string, err error)
}

// Result is the outcome of a command protocol, rendered to the caller as-is.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// Charger drives the wallbox through the command protocols. Commands run
// concurrently with the inbound receive loop; all shared state goes through
// the store.
type Charger struct {
	store   *state.Store
	client  ChargePointClient
	journal *db.Journal

	maxCurrent float64
	allowNuke  bool

	// wait sleeps for d unless ctx is cancelled first. Injectable so tests
	// do not spend wall-clock time on the protocol delays.
	wait func(ctx context.Context, d time.Duration)
}

// NewCharger wires the command protocols. The journal may be nil.
func NewCharger(store *state.Store, client ChargePointClient, journal *db.Journal, maxCurrent float64, allowNuke bool) *Charger {
	return &Charger{
		store:      store,
		client:     client,
		journal:    journal,
		maxCurrent: maxCurrent,
		allowNuke:  allowNuke,
		wait:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// StartCharging starts a charging session, resuming an existing transaction
// when one is known and escalating to a reset when the station refuses.
func (c *Charger) StartCharging(ctx context.Context) Result {
	return c.record("start", c.start(ctx, c.allowNuke))
}

func (c *Charger) start(ctx context.Context, nukeAllowed bool) Result {
	if !c.client.Connected() {
		return notConnected()
	}

	snap := c.store.Snapshot()
	if snap.ChargingState == state.ChargingStateCharging && snap.PowerW > 0 {
		return Result{Success: true, Message: "Wallbox is already charging", Action: "already_charging"}
	}

	// A known transaction means the session only needs resuming, not a new
	// RequestStartTransaction.
	if txID := c.refreshTransaction(ctx); txID != "" {
		res := c.resume(ctx, 0)
		if res.Success {
			return Result{Success: true, Message: res.Message, Action: "resumed"}
		}
		log.WithField("message", res.Message).Warn("Resume of existing transaction failed, requesting a new start")
	}

	remoteStartID := int(time.Now().Unix())
	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	status, txID, err := c.client.RequestStart(callCtx, remoteStartID)
	cancel()

	if err != nil {
		return c.escalate(ctx, nukeAllowed, fmt.Sprintf("start request failed: %v", err))
	}
	if !isAccepted(status) {
		return c.escalate(ctx, nukeAllowed, fmt.Sprintf("start request rejected: %s", status))
	}

	if txID != "" {
		c.store.Update(func(s *state.Session) {
			s.TransactionID = txID
		})
	}

	// The transaction needs a moment to establish before a tx-profile can
	// reference it. RequestStartTransaction alone does not enable current.
	c.wait(ctx, 2*time.Second)

	snap = c.store.Snapshot()
	limit := snap.CurrentLimitA

	callCtx, cancel = context.WithTimeout(ctx, commandTimeout)
	profStatus, reason, err := c.client.SetTxProfile(callCtx, snap.TransactionID, limit, 0)
	cancel()
	if err != nil || !isAccepted(profStatus) {
		log.WithFields(log.Fields{
			"status": profStatus,
			"reason": reason,
		}).WithError(err).Warn("Charging profile after start was not accepted")
	}

	c.wait(ctx, 5*time.Second)

	callCtx, cancel = context.WithTimeout(ctx, commandTimeout)
	if err := c.client.TriggerMeterValues(callCtx); err != nil {
		log.WithError(err).Debug("Post-start meter refresh failed")
	}
	cancel()

	return Result{Success: true, Message: fmt.Sprintf("Charging started at %gA", limit), Action: "started"}
}

// PauseCharging suspends current flow without ending the transaction, so a
// later resume does not need a new authorization.
func (c *Charger) PauseCharging(ctx context.Context) Result {
	return c.record("pause", c.pause(ctx))
}

// StopCharging is Pause: ending the transaction outright would put the
// station into a Finishing state that only a full reset can leave.
func (c *Charger) StopCharging(ctx context.Context) Result {
	return c.record("stop", c.pause(ctx))
}

func (c *Charger) pause(ctx context.Context) Result {
	if !c.client.Connected() {
		return notConnected()
	}

	txID := c.refreshTransaction(ctx)
	if txID == "" {
		return Result{Success: false, Message: "No active charging session", Action: "no_session"}
	}

	if c.store.Snapshot().PowerW == 0 {
		return Result{Success: true, Message: "Charging is already paused", Action: "already_paused"}
	}

	c.clearProfiles(ctx)

	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	status, reason, err := c.client.SetTxProfile(callCtx, txID, 0, 0)
	cancel()

	if err == nil && isAccepted(status) {
		return Result{Success: true, Message: "Charging paused", Action: "paused"}
	}

	cause := fmt.Sprintf("pause rejected: %s", describe(status, reason))
	if err != nil {
		cause = fmt.Sprintf("pause failed: %v", err)
	}
	return c.escalate(ctx, c.allowNuke, cause)
}

// ResumeCharging re-enables current flow on the known transaction, at amps
// when positive, otherwise at the tracked current limit. Resume never
// escalates to a reset itself.
func (c *Charger) ResumeCharging(ctx context.Context, amps float64) Result {
	return c.record("resume", c.resume(ctx, amps))
}

func (c *Charger) resume(ctx context.Context, amps float64) Result {
	if !c.client.Connected() {
		return notConnected()
	}

	txID := c.refreshTransaction(ctx)
	if txID == "" {
		return Result{Success: false, Message: "No active charging session - try starting instead", Action: "no_session"}
	}

	if amps <= 0 {
		amps = c.store.Snapshot().CurrentLimitA
	}

	c.clearProfiles(ctx)

	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	status, reason, err := c.client.SetTxProfile(callCtx, txID, amps, 0)
	cancel()

	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("resume failed: %v", err), Action: "failed"}
	}
	if !isAccepted(status) {
		return Result{Success: false, Message: fmt.Sprintf("resume rejected: %s", describe(status, reason)), Action: "failed"}
	}

	// Fresh meter data a few seconds after current starts flowing again.
	go func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), commandTimeout+3*time.Second)
		defer cancel()
		c.wait(refreshCtx, 3*time.Second)
		if err := c.client.TriggerMeterValues(refreshCtx); err != nil {
			log.WithError(err).Debug("Post-resume meter refresh failed")
		}
	}()

	return Result{Success: true, Message: fmt.Sprintf("Charging resumed at %gA", amps), Action: "resumed"}
}

// ResetWallbox reboots the station. On acceptance the link is considered
// down and the transaction gone; a rejected reset leaves state untouched.
func (c *Charger) ResetWallbox(ctx context.Context) Result {
	return c.record("reset", c.reset(ctx))
}

func (c *Charger) reset(ctx context.Context) Result {
	if !c.client.Connected() {
		return notConnected()
	}

	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	status, err := c.client.Reset(callCtx)
	cancel()

	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("reset failed: %v", err), Action: "failed"}
	}
	if !isAccepted(status) {
		return Result{Success: false, Message: fmt.Sprintf("reset rejected: %s", status), Action: "rejected"}
	}

	c.store.Update(func(s *state.Session) {
		s.Connected = false
		s.TransactionID = ""
	})

	return Result{Success: true, Message: "Wallbox is rebooting, expect about 60 seconds of downtime", Action: "reset"}
}

// StartChargingWithReset forces a clean start: try a plain start, and when
// the station refuses, reboot it, wait for it to come back, and start again.
func (c *Charger) StartChargingWithReset(ctx context.Context) Result {
	return c.record("start_with_reset", c.startWithReset(ctx))
}

func (c *Charger) startWithReset(ctx context.Context) Result {
	res := c.start(ctx, false)
	if res.Success {
		return res
	}
	log.WithField("message", res.Message).Info("Plain start failed, rebooting the wallbox")

	reset := c.reset(ctx)
	if !reset.Success {
		return Result{
			Success: false,
			Message: fmt.Sprintf("%s; %s", res.Message, reset.Message),
			Action:  "failed",
		}
	}

	if !c.awaitReconnect(ctx) {
		return Result{Success: false, Message: "Wallbox did not reconnect after reset", Action: "failed"}
	}

	again := c.start(ctx, c.allowNuke)
	if again.Success {
		again.Action = "restarted"
	}
	return again
}

// awaitReconnect polls for the link to come back after a reboot, in 5s steps
// over the reboot window.
func (c *Charger) awaitReconnect(ctx context.Context) bool {
	step := 5 * time.Second
	for i := 0; i < int(rebootWindow/step); i++ {
		if ctx.Err() != nil {
			return false
		}
		c.wait(ctx, step)
		if c.client.Connected() {
			return true
		}
	}
	return false
}

// SetCurrentLimit changes the charging current of the running transaction
// and, on acceptance, tracks the new limit locally.
func (c *Charger) SetCurrentLimit(ctx context.Context, amps float64) error {
	if amps < 6 || amps > c.maxCurrent {
		return fmt.Errorf("current limit %gA out of range [6, %g]", amps, c.maxCurrent)
	}
	if !c.client.Connected() {
		return fmt.Errorf("wallbox is not connected")
	}

	txID := c.refreshTransaction(ctx)
	if txID == "" {
		return fmt.Errorf("no active transaction")
	}

	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	status, reason, err := c.client.SetTxProfile(callCtx, txID, amps, 1)
	cancel()
	if err != nil {
		return fmt.Errorf("set current limit failed: %w", err)
	}

	// Some firmware answers with decorated status strings; any mention of
	// "accepted" counts.
	if !strings.Contains(strings.ToLower(status), "accepted") {
		return fmt.Errorf("set current limit rejected: %s", describe(status, reason))
	}

	c.store.Update(func(s *state.Session) {
		s.CurrentLimitA = amps
	})
	log.WithField("limitA", amps).Info("Current limit updated")
	return nil
}

// TriggerMeterValues requests an immediate meter report.
func (c *Charger) TriggerMeterValues(ctx context.Context) error {
	if !c.client.Connected() {
		return fmt.Errorf("wallbox is not connected")
	}
	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return c.client.TriggerMeterValues(callCtx)
}

// SetLedBrightness sets the status LED brightness, clamped to 0-100.
func (c *Charger) SetLedBrightness(ctx context.Context, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if !c.client.Connected() {
		return fmt.Errorf("wallbox is not connected")
	}

	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	status, err := c.client.SetVariable(callCtx, "ChargingStation", "StatusLedBrightness", fmt.Sprintf("%d", pct))
	cancel()
	if err != nil {
		return fmt.Errorf("set LED brightness failed: %w", err)
	}
	if !isAccepted(status) {
		return fmt.Errorf("set LED brightness rejected: %s", status)
	}

	c.store.Update(func(s *state.Session) {
		s.LedBrightness = pct
	})
	return nil
}

// refreshTransaction verifies the known transaction id against the station.
// The id is kept in every case: on timeout or error because the station may
// just be slow, and on a "not ongoing" answer because the follow-up profile
// call is what decides whether recovery is needed. Only an accepted reset
// clears the id.
func (c *Charger) refreshTransaction(ctx context.Context) string {
	txID := c.store.Snapshot().TransactionID
	if txID == "" {
		return ""
	}

	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	ongoing, err := c.client.TransactionOngoing(callCtx, txID)
	cancel()

	if err != nil {
		log.WithError(err).Debug("Transaction status refresh failed, keeping known id")
	} else if !ongoing {
		log.WithField("transactionId", txID).Warn("Transaction may have ended, keeping known id")
	}
	return txID
}

// clearProfiles resets the profile priority stack, best-effort.
func (c *Charger) clearProfiles(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := c.client.ClearProfiles(callCtx); err != nil {
		log.WithError(err).Debug("Clearing charging profiles failed")
	}
}

// escalate is the nuke path: when allowed, a failed start/pause falls back to
// a reset, since the station resumes charging by itself after a reboot while
// the cable stays plugged in.
func (c *Charger) escalate(ctx context.Context, nukeAllowed bool, cause string) Result {
	if !nukeAllowed {
		return Result{Success: false, Message: cause, Action: "failed"}
	}

	log.WithField("cause", cause).Warn("Escalating to wallbox reset")
	reset := c.reset(ctx)
	if reset.Success {
		return Result{
			Success: true,
			Message: fmt.Sprintf("%s; wallbox reset triggered, expect about 60 seconds of downtime", cause),
			Action:  "nuked",
		}
	}
	return Result{
		Success: false,
		Message: fmt.Sprintf("%s; %s", cause, reset.Message),
		Action:  "failed",
	}
}

// record journals the outcome and updates the command metrics.
func (c *Charger) record(command string, res Result) Result {
	outcome := "failure"
	if res.Success {
		outcome = "success"
	}
	metrics.CommandsTotal.WithLabelValues(command, outcome).Inc()

	c.journal.RecordCommand(models.CommandRecord{
		Command: command,
		Success: res.Success,
		Action:  res.Action,
		Message: res.Message,
	})

	log.WithFields(log.Fields{
		"command": command,
		"success": res.Success,
		"action":  res.Action,
	}).Info(res.Message)
	return res
}

func notConnected() Result {
	return Result{Success: false, Message: "Wallbox is not connected", Action: "not_connected"}
}

func isAccepted(status string) bool {
	return status == "Accepted"
}

func describe(status, reason string) string {
	if reason == "" {
		return status
	}
	return fmt.Sprintf("%s (%s)", status, reason)
}
