// Package test provides the Postgres test database shared by the integration tests.
package test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/relabs-tech/kumii/core/csql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	setupOnce sync.Once
	sharedDB  *csql.DB
	container testcontainers.Container
	setupErr  error
)

// Postgres returns a database on a fresh schema, which is dropped when the test ends.
//
// The database is the one in POSTGRES (plus POSTGRES_PASSWORD) if set, otherwise a
// postgres:15 container is started on first use. The test is skipped in short mode and
// when no container runtime is available.
func Postgres(t *testing.T) *csql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	if os.Getenv("POSTGRES") == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
	}
	setupOnce.Do(func() { sharedDB, setupErr = open() })
	require.NoError(t, setupErr)

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	_, err := sharedDB.Exec(`CREATE SCHEMA ` + pq.QuoteIdentifier(schema) + `;`)
	require.NoError(t, err)
	t.Cleanup(func() {
		sharedDB.Exec(`DROP SCHEMA ` + pq.QuoteIdentifier(schema) + ` CASCADE;`)
	})
	return &csql.DB{DB: sharedDB.DB, Schema: schema}
}

// Terminate stops the container started by Postgres, if any. Call it from TestMain.
func Terminate() {
	if container != nil {
		container.Terminate(context.Background())
	}
}

func open() (db *csql.DB, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open database: %v", r)
		}
	}()
	if dsn := os.Getenv("POSTGRES"); dsn != "" {
		return csql.OpenWithSchema(dsn, os.Getenv("POSTGRES_PASSWORD"), "public"), nil
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(2 * time.Minute),
	}
	container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, err
	}
	return csql.OpenWithSchema(fmt.Sprintf("host=%s port=%s user=testuser dbname=testdb sslmode=disable", host, port.Port()),
		"testpass", "public"), nil
}
