package tests

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/entanglekey/server/internal/auth"
	"github.com/entanglekey/server/internal/db"
	"github.com/entanglekey/server/internal/entropy"
	httphandler "github.com/entanglekey/server/internal/http"
	"github.com/entanglekey/server/internal/http/handlers"
	"github.com/entanglekey/server/internal/kem"
	"github.com/entanglekey/server/internal/model"
	"github.com/entanglekey/server/internal/pairing"
	"github.com/entanglekey/server/internal/pool"
	"github.com/entanglekey/server/internal/repo"

	_ "github.com/lib/pq"
)

const testJWTSecret = "test-jwt-secret-at-least-32-characters-long"

const (
	// MigrationDir is the path to migrations relative to the module root.
	MigrationDir = "internal/db/migrations"
	// MigrationDirFromInternalTests is used when go test ./... runs tests
	// from internal/tests.
	MigrationDirFromInternalTests = "../../internal/db/migrations"
)

// ResolveMigrationDir returns the first existing migration directory.
// Returns empty string if none exists.
func ResolveMigrationDir() string {
	for _, dir := range []string{MigrationDir, MigrationDirFromInternalTests} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			abs, _ := filepath.Abs(dir)
			return abs
		}
	}
	return ""
}

// RunMigrations runs goose Up using the resolved migration directory.
func RunMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	dir := ResolveMigrationDir()
	if dir == "" {
		return fmt.Errorf("migrations directory not found (tried %q, %q); run tests from the repo root", MigrationDir, MigrationDirFromInternalTests)
	}
	if err := goose.Up(database, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// TruncatePairingTables truncates all pairing tables for a clean test state.
func TruncatePairingTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx,
		"TRUNCATE TABLE anomaly_events, entropy_measurements, sync_events, randomness_pools, entangled_pairs, pairing_sessions, devices RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate pairing tables: %w", err)
	}
	return nil
}

// testServer bundles everything an HTTP-level test needs.
type testServer struct {
	Server  *httptest.Server
	JWT     *auth.JWTService
	KEM     kem.Provider
	Stores  pairing.Stores
	Secrets *pool.SecretCache
	DB      *sql.DB
}

func (s *testServer) BaseURL() string { return s.Server.URL }

// Token mints a bearer token for the given user.
func (s *testServer) Token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := s.JWT.SignAccessToken(userID, uuid.Nil)
	require.NoError(t, err)
	return token
}

// DeviceToken mints a bearer token carrying both user and device claims.
func (s *testServer) DeviceToken(t *testing.T, userID, deviceID uuid.UUID) string {
	t.Helper()
	token, err := s.JWT.SignAccessToken(userID, deviceID)
	require.NoError(t, err)
	return token
}

// AddDevice registers a device owned by the user and returns its id.
func (s *testServer) AddDevice(t *testing.T, userID uuid.UUID) uuid.UUID {
	t.Helper()
	pub, _, err := s.KEM.GenerateKeyPair()
	require.NoError(t, err)
	d := model.Device{
		ID:             uuid.New(),
		UserID:         userID,
		DeviceName:     "test-device",
		IdentityKeyPub: pub,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.Stores.Devices.Create(context.Background(), d))
	return d.ID
}

func newServerWithStores(t *testing.T, stores pairing.Stores, database *sql.DB) *testServer {
	t.Helper()

	provider, err := kem.NewProvider(kem.BackendMLKEM, true)
	require.NoError(t, err)

	cfg := pairing.DefaultConfig()
	cfg.CodeSalt = "test-pair-code-salt"
	cfg.SampleSize = 16 * 1024

	secrets := pool.NewSecretCache(64, time.Hour)
	monitor := entropy.NewMonitor(entropy.DefaultThresholds())
	orch := pairing.NewOrchestrator(cfg, provider, monitor, secrets, stores, nil)

	jwtService := auth.NewJWTService(testJWTSecret)
	pairingHandler := handlers.NewPairingHandler(orch, nil)
	router := httphandler.NewRouter(pairingHandler, jwtService)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{
		Server:  server,
		JWT:     jwtService,
		KEM:     provider,
		Stores:  stores,
		Secrets: secrets,
		DB:      database,
	}
}

// newMemoryTestServer runs the full HTTP stack on in-memory stores. It has
// no external dependencies and always runs.
func newMemoryTestServer(t *testing.T) *testServer {
	t.Helper()
	stores := pairing.Stores{
		Devices:   repo.NewMemoryDeviceRepo(),
		Sessions:  repo.NewMemorySessionRepo(),
		Pairs:     repo.NewMemoryPairRepo(),
		Pools:     repo.NewMemoryPoolRepo(),
		Events:    repo.NewMemoryEventRepo(),
		Entropy:   repo.NewMemoryEntropyRepo(),
		Anomalies: repo.NewMemoryAnomalyRepo(),
	}
	return newServerWithStores(t, stores, nil)
}

// newDBTestServer runs against a real PostgreSQL instance. Callers must skip
// when DATABASE_URL is unset.
func newDBTestServer(t *testing.T) *testServer {
	t.Helper()

	ctx := context.Background()
	database, err := db.Open(ctx, os.Getenv("DATABASE_URL"), nil)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that the test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, RunMigrations(database), "migrations must run successfully")
	require.NoError(t, TruncatePairingTables(ctx, database))

	stores := pairing.Stores{
		Devices:   repo.NewDeviceRepo(database),
		Sessions:  repo.NewSessionRepo(database),
		Pairs:     repo.NewPairRepo(database),
		Pools:     repo.NewPoolRepo(database),
		Events:    repo.NewEventRepo(database),
		Entropy:   repo.NewEntropyRepo(database),
		Anomalies: repo.NewAnomalyRepo(database),
	}
	return newServerWithStores(t, stores, database)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
