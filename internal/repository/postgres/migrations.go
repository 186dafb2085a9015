package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
)

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_directory",
			Up: []string{
				`CREATE TABLE caregivers (
					id UUID PRIMARY KEY,
					organization_id UUID NOT NULL,
					name TEXT NOT NULL,
					provider_id TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE clients (
					id UUID PRIMARY KEY,
					organization_id UUID NOT NULL,
					name TEXT NOT NULL,
					payer_id TEXT NOT NULL DEFAULT '',
					payer_name TEXT NOT NULL DEFAULT ''
				)`,
			},
			Down: []string{
				`DROP TABLE clients`,
				`DROP TABLE caregivers`,
			},
		},
		{
			Id: "0002_visits",
			Up: []string{
				`CREATE TABLE visits (
					id UUID PRIMARY KEY,
					organization_id UUID NOT NULL,
					caregiver_id UUID NOT NULL REFERENCES caregivers(id),
					client_id UUID NOT NULL REFERENCES clients(id),
					service_type TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					scheduled_start TIMESTAMPTZ,
					scheduled_end TIMESTAMPTZ,
					start_time TIMESTAMPTZ,
					end_time TIMESTAMPTZ,
					start_lat DOUBLE PRECISION,
					start_lng DOUBLE PRECISION,
					end_lat DOUBLE PRECISION,
					end_lng DOUBLE PRECISION,
					client_signature TEXT,
					notes TEXT,
					claim_id UUID,
					external_transaction_id TEXT,
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					CONSTRAINT visits_status_check CHECK (status IN ('SCHEDULED', 'IN_PROGRESS', 'COMPLETED', 'VERIFIED', 'SUBMITTED')),
					CONSTRAINT visits_end_time_check CHECK ((end_time IS NOT NULL) = (status IN ('COMPLETED', 'VERIFIED', 'SUBMITTED'))),
					CONSTRAINT visits_interval_check CHECK (start_time IS NULL OR end_time IS NULL OR end_time >= start_time)
				)`,
				`CREATE UNIQUE INDEX visits_one_in_progress_per_caregiver
					ON visits (caregiver_id) WHERE status = 'IN_PROGRESS'`,
				`CREATE INDEX visits_caregiver_idx ON visits (organization_id, caregiver_id, status)`,
				`CREATE INDEX visits_client_idx ON visits (organization_id, client_id, status)`,
				`CREATE INDEX visits_pending_sync_idx ON visits (end_time) WHERE status = 'COMPLETED'`,
			},
			Down: []string{
				`DROP TABLE visits`,
			},
		},
		{
			Id: "0003_billing",
			Up: []string{
				`CREATE TABLE authorizations (
					id UUID PRIMARY KEY,
					organization_id UUID NOT NULL,
					contact_id UUID NOT NULL REFERENCES clients(id),
					service_code TEXT NOT NULL,
					start_date DATE NOT NULL,
					end_date DATE NOT NULL,
					total_units INTEGER NOT NULL,
					used_units INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'ACTIVE',
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					CONSTRAINT authorizations_units_check CHECK (used_units >= 0 AND used_units <= total_units),
					CONSTRAINT authorizations_dates_check CHECK (end_date >= start_date)
				)`,
				`CREATE INDEX authorizations_lookup_idx
					ON authorizations (organization_id, contact_id, service_code, status)`,
				`CREATE TABLE claims (
					id UUID PRIMARY KEY,
					claim_number TEXT NOT NULL UNIQUE,
					organization_id UUID NOT NULL,
					contact_id UUID NOT NULL REFERENCES clients(id),
					visit_id UUID NOT NULL REFERENCES visits(id),
					authorization_id UUID REFERENCES authorizations(id),
					units INTEGER NOT NULL,
					total_billed NUMERIC(12,2) NOT NULL,
					service_date_start TIMESTAMPTZ NOT NULL,
					service_date_end TIMESTAMPTZ NOT NULL,
					status TEXT NOT NULL DEFAULT 'DRAFT',
					payer_name TEXT NOT NULL DEFAULT '',
					submitted_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					CONSTRAINT claims_visit_id_key UNIQUE (visit_id)
				)`,
				`ALTER TABLE visits ADD CONSTRAINT visits_claim_fk
					FOREIGN KEY (claim_id) REFERENCES claims(id)`,
			},
			Down: []string{
				`ALTER TABLE visits DROP CONSTRAINT visits_claim_fk`,
				`DROP TABLE claims`,
				`DROP TABLE authorizations`,
			},
		},
		{
			Id: "0004_outbox",
			Up: []string{
				`CREATE TABLE outbox_events (
					id UUID PRIMARY KEY,
					event_type TEXT NOT NULL,
					payload JSONB NOT NULL,
					status TEXT NOT NULL DEFAULT 'PENDING',
					error_message TEXT,
					retry_count INTEGER NOT NULL DEFAULT 0,
					retry_at TIMESTAMPTZ,
					processed_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX outbox_events_pending_idx
					ON outbox_events (created_at) WHERE status IN ('PENDING', 'RETRY')`,
			},
			Down: []string{
				`DROP TABLE outbox_events`,
			},
		},
	},
}

// Migrate applies every pending schema migration and returns how many ran.
func Migrate(ctx context.Context, db *sqlx.DB) (int, error) {
	n, err := migrate.ExecContext(ctx, db.DB, "postgres", migrations, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("failed to run migrations: %w", err)
	}
	return n, nil
}
