package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}

	err = pool.Client.Ping()
	if err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "17-alpine",
		Env: []string{
			"POSTGRES_USER=membership",
			"POSTGRES_PASSWORD=membership",
			"POSTGRES_DB=membership",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start resource: %s", err)
	}

	hostPort := resource.GetHostPort("5432/tcp")
	databaseURL := fmt.Sprintf("postgres://membership:membership@%s/membership?sslmode=disable", hostPort)

	// Set a hard deadline for container startup
	resource.Expire(120)

	pool.MaxWait = 60 * time.Second
	if err := pool.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var poolErr error
		testPool, poolErr = pgxpool.New(ctx, databaseURL)
		if poolErr != nil {
			return poolErr
		}

		return testPool.Ping(ctx)
	}); err != nil {
		log.Fatalf("Could not connect to database: %s", err)
	}

	if err := runMigrations(context.Background(), testPool); err != nil {
		log.Fatalf("Could not run migrations: %s", err)
	}

	code := m.Run()

	testPool.Close()

	if err := pool.Purge(resource); err != nil {
		log.Fatalf("Could not purge resource: %s", err)
	}

	os.Exit(code)
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		// 000001_init
		`CREATE SCHEMA IF NOT EXISTS membership;`,
		`CREATE TABLE membership.applications (
			id               UUID PRIMARY KEY,
			status           TEXT NOT NULL,
			wants_card       BOOLEAN NOT NULL DEFAULT FALSE,
			wants_pass       BOOLEAN NOT NULL DEFAULT FALSE,
			name             TEXT NOT NULL,
			surname          TEXT NOT NULL,
			email            TEXT NOT NULL,
			nationality      TEXT NOT NULL DEFAULT '',
			card_number      TEXT UNIQUE,
			pass_token       TEXT UNIQUE,
			payment_link_id  TEXT,
			payment_link_url TEXT,
			date_created     TIMESTAMPTZ NOT NULL,
			date_approved    TIMESTAMPTZ,
			date_paid        TIMESTAMPTZ,
			last_scanned_at  TIMESTAMPTZ,
			version          INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE INDEX idx_applications_status ON membership.applications (status);`,
		`CREATE TABLE membership.card_pool (
			id       BIGSERIAL PRIMARY KEY,
			sequence BIGINT NOT NULL UNIQUE,
			number   TEXT NOT NULL UNIQUE,
			assigned BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE INDEX idx_card_pool_free ON membership.card_pool (sequence) WHERE assigned = FALSE;`,
		`CREATE TABLE membership.outbox (
			event_id       TEXT PRIMARY KEY,
			event_type     TEXT NOT NULL,
			application_id UUID NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			payload        JSONB NOT NULL,
			occurred_at    TIMESTAMPTZ NOT NULL,
			published_at   TIMESTAMPTZ
		);`,
		`CREATE INDEX idx_outbox_unpublished ON membership.outbox (occurred_at) WHERE published_at IS NULL;`,
	}

	for _, sql := range migrations {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("migration failed: %s: %w", sql[:min(50, len(sql))], err)
		}
	}

	return nil
}

func truncateTables(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE membership.outbox, membership.applications, membership.card_pool CASCADE
	`)
	return err
}

func getTestPool() *pgxpool.Pool {
	return testPool
}
