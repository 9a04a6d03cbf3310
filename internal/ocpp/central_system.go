package ocpp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	ocpp2 "github.com/lorenzodonini/ocpp-go/ocpp2.0.1"
	"github.com/lorenzodonini/ocpp-go/ws"
	log "github.com/sirupsen/logrus"

	"github.com/evhome/wallbox-csms/config"
	"github.com/evhome/wallbox-csms/internal/db"
	"github.com/evhome/wallbox-csms/internal/metrics"
	"github.com/evhome/wallbox-csms/internal/state"
)

// CentralSystem terminates the TLS WebSocket listener and owns the single
// wallbox link. Inbound messages mutate the session store through the
// handlers; outbound calls go through the synchronous wrappers in calls.go.
type CentralSystem struct {
	csms     ocpp2.CSMS
	wsServer *ws.Server
	store    *state.Store
	config   *config.Config
	journal  *db.Journal

	mu        sync.Mutex
	activeID  string // charge point id of the bound link, "" when down
	connected bool
}

// NewCentralSystem creates the central system around a session store. The
// journal may be nil.
func NewCentralSystem(cfg *config.Config, store *state.Store, journal *db.Journal) *CentralSystem {
	return &CentralSystem{
		store:   store,
		config:  cfg,
		journal: journal,
	}
}

// Start binds the TLS WebSocket listener and begins accepting. The underlying
// server loop runs until Stop is called; Start returns once it is launched.
func (cs *CentralSystem) Start() error {
	// The listener loads the key pair lazily; parse it here so malformed
	// certificate material fails startup instead of the first handshake.
	if _, err := tls.LoadX509KeyPair(cs.config.TLSCertPath, cs.config.TLSKeyPath); err != nil {
		return fmt.Errorf("cannot load TLS key pair: %w", err)
	}

	wsServer := ws.NewTLSServer(cs.config.TLSCertPath, cs.config.TLSKeyPath, nil)
	cs.wsServer = wsServer

	// Exactly one wallbox: reject any handshake for a foreign charge point
	// id, and any second connection while a link is bound.
	wsServer.SetCheckClientHandler(func(id string, r *http.Request) bool {
		if id != cs.config.ChargePointID {
			log.WithFields(log.Fields{
				"chargePointId": id,
				"remoteAddr":    r.RemoteAddr,
			}).Warn("Rejecting connection for unknown charge point")
			return false
		}
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if cs.connected {
			log.WithFields(log.Fields{
				"chargePointId": id,
				"remoteAddr":    r.RemoteAddr,
			}).Warn("Rejecting second concurrent connection")
			return false
		}
		return true
	})

	cs.csms = ocpp2.NewCSMS(nil, wsServer)

	handler := &wallboxHandler{central: cs}
	cs.csms.SetProvisioningHandler(handler)
	cs.csms.SetAvailabilityHandler(handler)
	cs.csms.SetMeterHandler(handler)
	cs.csms.SetTransactionsHandler(handler)
	cs.csms.SetSecurityHandler(handler)

	cs.csms.SetNewChargingStationHandler(cs.handleConnected)
	cs.csms.SetChargingStationDisconnectedHandler(cs.handleDisconnected)

	go func() {
		for err := range cs.csms.Errors() {
			log.WithError(err).Error("OCPP server error")
		}
	}()

	log.WithFields(log.Fields{
		"port":          cs.config.ServerPort,
		"chargePointId": cs.config.ChargePointID,
	}).Info("Starting OCPP 2.0.1 central system")

	go cs.csms.Start(cs.config.ServerPort, "/{ws}")
	return nil
}

// Stop shuts down the listener and drops the active link.
func (cs *CentralSystem) Stop() {
	if cs.wsServer != nil {
		cs.wsServer.Stop()
	}
}

func (cs *CentralSystem) handleConnected(station ocpp2.ChargingStationConnection) {
	id := station.ID()
	cs.mu.Lock()
	cs.activeID = id
	cs.connected = true
	cs.mu.Unlock()

	cs.store.Update(func(s *state.Session) {
		s.Connected = true
	})
	metrics.Connected.Set(1)

	log.WithField("chargePointId", id).Info("Wallbox connected")

	// Best-effort: keep the transaction alive across cable unplug so
	// pause/resume works, then ask for fresh meter data once the station
	// has settled.
	go cs.configurePauseResume()
	go func() {
		time.Sleep(3 * time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := cs.TriggerMeterValues(ctx); err != nil {
			log.WithError(err).Debug("Post-connect meter refresh failed")
		}
	}()
}

func (cs *CentralSystem) handleDisconnected(station ocpp2.ChargingStationConnection) {
	cs.mu.Lock()
	cs.activeID = ""
	cs.connected = false
	cs.mu.Unlock()

	// The transaction id is kept: a reconnect may resume the same session.
	cs.store.Update(func(s *state.Session) {
		s.Connected = false
	})
	metrics.Connected.Set(0)

	log.WithField("chargePointId", station.ID()).Warn("Wallbox disconnected")
}

// configurePauseResume tells the station not to end the transaction when the
// cable is unplugged on the EV side. Runs once per connection, best-effort.
func (cs *CentralSystem) configurePauseResume() {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	status, err := cs.SetVariable(ctx, "TxCtrlr", "StopTxOnEVSideDisconnect", "false")
	if err != nil {
		log.WithError(err).Warn("Could not configure pause/resume support")
		return
	}
	log.WithField("status", status).Info("Configured StopTxOnEVSideDisconnect=false")
}

// Connected reports whether a wallbox link is currently bound.
func (cs *CentralSystem) Connected() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.connected
}

// clientID returns the bound charge point id, or an error when no link is up.
func (cs *CentralSystem) clientID() (string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.connected || cs.activeID == "" {
		return "", ErrNotConnected
	}
	return cs.activeID, nil
}

func describeStatus(status, reason string) string {
	if reason == "" {
		return status
	}
	return fmt.Sprintf("%s (%s)", status, reason)
}
