//go:build integration

package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fitpro/config"
	"fitpro/internal/models"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T, ctx context.Context) config.DBConfig {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "fitpro",
			"POSTGRES_PASSWORD": "fitpro",
			"POSTGRES_DB":       "fitpro",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	port, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}
	return config.DBConfig{
		Driver:       "postgres",
		URL:          fmt.Sprintf("postgres://fitpro:fitpro@%s:%s/fitpro?sslmode=disable", host, port.Port()),
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		ConnLifetime: time.Minute,
	}
}

func TestPostgresMigrateAndApprove(t *testing.T) {
	ctx := context.Background()
	cfg := startPostgres(t, ctx)

	if err := Migrate("", cfg.PostgresDSN(), "up", 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	gdb, err := OpenPostgres(cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close(gdb) })

	u := seedUser(t, gdb, "pg@example.com", models.RoleUser)
	admin := seedUser(t, gdb, "pgadmin@example.com", models.RoleAdmin)
	p := seedPending(t, gdb, u.ID, "TXPOSTGRES01")
	store := NewPaymentStore(gdb)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := store.Approve(ctx, p.ID, admin.ID, time.Now())
			if err != nil {
				t.Errorf("approve: %v", err)
				return
			}
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if changes != 1 {
		t.Fatalf("changes = %d, want 1", changes)
	}

	owner, err := NewUserStore(gdb).ByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("load owner: %v", err)
	}
	if owner.Role != models.RolePremium {
		t.Fatalf("role = %s, want premium", owner.Role)
	}

	dup := &models.PaymentRequest{UserID: u.ID, TxID: "TXPOSTGRES01", Amount: "1 USDT", Provider: models.ProviderManual, Status: models.PaymentPending}
	if err := store.Create(ctx, dup); !errors.Is(err, ErrDuplicateTx) {
		t.Fatalf("duplicate insert: %v", err)
	}

	if err := Migrate("", cfg.PostgresDSN(), "down", 0); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
}
