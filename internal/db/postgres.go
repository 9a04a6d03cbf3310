package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/evhome/wallbox-csms/internal/db/models"
)

// Journal is an append-only audit log of wallbox activity in PostgreSQL.
// It is optional: all methods are safe to call on a nil *Journal and become
// no-ops, and every write is best-effort (failures are logged, never
// propagated). The journal is never read back into runtime state.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal connects to PostgreSQL and ensures the journal tables exist.
func NewJournal(ctx context.Context, dsn string) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	j := &Journal{pool: pool}
	if err := j.createTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to create tables: %w", err)
	}

	log.Info("Charge journal connected")
	return j, nil
}

func (j *Journal) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS boot_records (
			id UUID PRIMARY KEY,
			model TEXT NOT NULL,
			vendor TEXT NOT NULL,
			serial_number TEXT NOT NULL,
			firmware_version TEXT NOT NULL,
			reason TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transaction_events (
			id UUID PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			trigger_reason TEXT NOT NULL,
			charging_state TEXT NOT NULL,
			stopped_reason TEXT NOT NULL,
			sequence_number INT NOT NULL,
			power_w DOUBLE PRECISION NOT NULL,
			received_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS meter_samples (
			id UUID PRIMARY KEY,
			measurand TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			phase TEXT NOT NULL,
			context TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS command_log (
			id UUID PRIMARY KEY,
			command TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			action TEXT NOT NULL,
			message TEXT NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := j.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool.
func (j *Journal) Close() {
	if j == nil || j.pool == nil {
		return
	}
	j.pool.Close()
}

// RecordBoot journals a BootNotification.
func (j *Journal) RecordBoot(rec models.BootRecord) {
	if j == nil {
		return
	}
	rec.ID = uuid.New().String()
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}

	_, err := j.exec(
		`INSERT INTO boot_records (id, model, vendor, serial_number, firmware_version, reason, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.Model, rec.Vendor, rec.SerialNumber, rec.FirmwareVersion, rec.Reason, rec.ReceivedAt,
	)
	if err != nil {
		log.WithError(err).Warn("Failed to journal boot record")
	}
}

// RecordTransactionEvent journals a TransactionEvent.
func (j *Journal) RecordTransactionEvent(rec models.TransactionEventRecord) {
	if j == nil {
		return
	}
	rec.ID = uuid.New().String()
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}

	_, err := j.exec(
		`INSERT INTO transaction_events (id, transaction_id, event_type, trigger_reason, charging_state, stopped_reason, sequence_number, power_w, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.TransactionID, rec.EventType, rec.TriggerReason, rec.ChargingState,
		rec.StoppedReason, rec.SequenceNumber, rec.PowerW, rec.ReceivedAt,
	)
	if err != nil {
		log.WithError(err).Warn("Failed to journal transaction event")
	}
}

// RecordMeterSample journals one sampled measurement.
func (j *Journal) RecordMeterSample(rec models.MeterSampleRecord) {
	if j == nil {
		return
	}
	rec.ID = uuid.New().String()
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}

	_, err := j.exec(
		`INSERT INTO meter_samples (id, measurand, value, phase, context, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Measurand, rec.Value, rec.Phase, rec.Context, rec.ReceivedAt,
	)
	if err != nil {
		log.WithError(err).Warn("Failed to journal meter sample")
	}
}

// RecordCommand journals a command protocol outcome.
func (j *Journal) RecordCommand(rec models.CommandRecord) {
	if j == nil {
		return
	}
	rec.ID = uuid.New().String()
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now()
	}

	_, err := j.exec(
		`INSERT INTO command_log (id, command, success, action, message, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Command, rec.Success, rec.Action, rec.Message, rec.ExecutedAt,
	)
	if err != nil {
		log.WithError(err).Warn("Failed to journal command outcome")
	}
}

func (j *Journal) exec(query string, args ...interface{}) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tag, err := j.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
