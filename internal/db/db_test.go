package db

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fitpro/internal/apperr"
	"fitpro/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	gdb, err := OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = Close(gdb) })
	return gdb
}

func seedUser(t *testing.T, gdb *gorm.DB, email string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{Email: email, PasswordHash: "hash", Role: role, Status: models.StatusActive}
	if err := NewUserStore(gdb).Create(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedPending(t *testing.T, gdb *gorm.DB, userID uuid.UUID, tx string) *models.PaymentRequest {
	t.Helper()
	p := &models.PaymentRequest{UserID: userID, TxID: tx, Amount: "1 USDT", Provider: models.ProviderManual, Status: models.PaymentPending}
	if err := NewPaymentStore(gdb).Create(context.Background(), p); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}

func TestUserStoreDuplicateEmail(t *testing.T) {
	gdb := setupTestDB(t)
	seedUser(t, gdb, "a@example.com", models.RoleUser)

	err := NewUserStore(gdb).Create(context.Background(), &models.User{Email: " A@Example.com ", PasswordHash: "x"})
	if !apperr.Is(err, apperr.KindStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestUserStoreNotFound(t *testing.T) {
	gdb := setupTestDB(t)
	_, err := NewUserStore(gdb).ByID(context.Background(), uuid.New())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFormulaAggregateRoundTrip(t *testing.T) {
	gdb := setupTestDB(t)
	u := seedUser(t, gdb, "f@example.com", models.RoleUser)
	store := NewFormulaStore(gdb)
	ctx := context.Background()

	f := &models.Formula{
		UserID:    u.ID,
		Code:      "MFP-1234-BLD",
		AIVersion: "test",
		Summary:   datatypes.NewJSONType(models.FormulaSummary{EnergyIndex: 70, Priority: "sleep"}),
	}
	stacks := []models.SupplementStack{{Name: "Creatine", Priority: 5}, {Name: "Magnesium", Priority: 3}}
	alerts := []models.BioAlert{{Type: "general", Message: "hydrate", Severity: "low"}}
	if err := store.CreateAggregate(ctx, f, stacks, alerts); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, u.ID, f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Stacks) != 2 || got.Stacks[0].Name != "Creatine" || got.Stacks[1].Name != "Magnesium" {
		t.Fatalf("stacks not in order: %+v", got.Stacks)
	}
	if len(got.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got.Alerts))
	}
	if got.Summary.Data().EnergyIndex != 70 {
		t.Fatalf("summary lost: %+v", got.Summary.Data())
	}

	other := seedUser(t, gdb, "other@example.com", models.RoleUser)
	if _, err := store.Get(ctx, other.ID, f.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("foreign formula should be not found, got %v", err)
	}
}

func TestUpdateStackOwnership(t *testing.T) {
	gdb := setupTestDB(t)
	u := seedUser(t, gdb, "s@example.com", models.RoleUser)
	other := seedUser(t, gdb, "o@example.com", models.RoleUser)
	store := NewFormulaStore(gdb)
	ctx := context.Background()

	f := &models.Formula{UserID: u.ID, Code: "MFP-2000-CUT", AIVersion: "test"}
	stacks := []models.SupplementStack{{Name: "Zinc", Priority: 2}}
	if err := store.CreateAggregate(ctx, f, stacks, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	done, rating := true, 4
	item, err := store.UpdateStack(ctx, u.ID, f.ID, stacks[0].ID, StackPatch{Completed: &done, Rating: &rating})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !item.IsCompleted || item.Rating != 4 {
		t.Fatalf("patch not applied: %+v", item)
	}

	if _, err := store.UpdateStack(ctx, other.ID, f.ID, stacks[0].ID, StackPatch{Completed: &done}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for foreign owner, got %v", err)
	}
}

func TestApproveIdempotent(t *testing.T) {
	gdb := setupTestDB(t)
	u := seedUser(t, gdb, "p@example.com", models.RoleUser)
	admin := seedUser(t, gdb, "admin@example.com", models.RoleAdmin)
	p := seedPending(t, gdb, u.ID, "TX12345678")
	store := NewPaymentStore(gdb)
	ctx := context.Background()

	got, changed, err := store.Approve(ctx, p.ID, admin.ID, time.Now())
	if err != nil || !changed {
		t.Fatalf("first approve: changed=%v err=%v", changed, err)
	}
	if got.Status != models.PaymentApproved || got.ReviewedBy == nil || *got.ReviewedBy != admin.ID {
		t.Fatalf("unexpected request: %+v", got)
	}

	got, changed, err = store.Approve(ctx, p.ID, admin.ID, time.Now())
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if changed {
		t.Fatal("second approve must be a no-op")
	}
	if got.Status != models.PaymentApproved {
		t.Fatalf("status = %s", got.Status)
	}

	owner, _ := NewUserStore(gdb).ByID(ctx, u.ID)
	if owner.Role != models.RolePremium {
		t.Fatalf("role = %s, want premium", owner.Role)
	}
}

func TestApproveConcurrentUpgradesOnce(t *testing.T) {
	gdb := setupTestDB(t)
	u := seedUser(t, gdb, "c@example.com", models.RoleUser)
	admin := seedUser(t, gdb, "admin@example.com", models.RoleAdmin)
	p := seedPending(t, gdb, u.ID, "TXCONCURRENT1")
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
			_, changed, err := store.Approve(context.Background(), p.ID, admin.ID, time.Now())
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
		t.Fatalf("expected exactly one transition, got %d", changes)
	}
}

func TestRejectThenApproveConflicts(t *testing.T) {
	gdb := setupTestDB(t)
	u := seedUser(t, gdb, "r@example.com", models.RoleUser)
	admin := seedUser(t, gdb, "admin@example.com", models.RoleAdmin)
	p := seedPending(t, gdb, u.ID, "TXREJECTED1")
	store := NewPaymentStore(gdb)
	ctx := context.Background()

	if _, changed, err := store.Reject(ctx, p.ID, admin.ID, time.Now()); err != nil || !changed {
		t.Fatalf("reject: changed=%v err=%v", changed, err)
	}
	if _, changed, err := store.Reject(ctx, p.ID, admin.ID, time.Now()); err != nil || changed {
		t.Fatalf("re-reject should be a no-op: changed=%v err=%v", changed, err)
	}
	if _, _, err := store.Approve(ctx, p.ID, admin.ID, time.Now()); !apperr.Is(err, apperr.KindStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}

	owner, _ := NewUserStore(gdb).ByID(ctx, u.ID)
	if owner.Role != models.RoleUser {
		t.Fatalf("rejected request must not upgrade, role = %s", owner.Role)
	}
}

func TestApproveMissing(t *testing.T) {
	gdb := setupTestDB(t)
	_, _, err := NewPaymentStore(gdb).Approve(context.Background(), uuid.New(), uuid.New(), time.Now())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApproveRollsBackWhenOwnerMissing(t *testing.T) {
	gdb := setupTestDB(t)
	p := seedPending(t, gdb, uuid.New(), "TXORPHAN123")
	store := NewPaymentStore(gdb)
	ctx := context.Background()

	_, _, err := store.Approve(ctx, p.ID, uuid.New(), time.Now())
	if !errors.Is(err, ErrRoleUpgrade) {
		t.Fatalf("expected role upgrade error, got %v", err)
	}
	got, err := store.ByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != models.PaymentPending {
		t.Fatalf("status = %s, transition should have rolled back", got.Status)
	}
}

func TestListPendingNewestFirst(t *testing.T) {
	gdb := setupTestDB(t)
	u := seedUser(t, gdb, "l@example.com", models.RoleUser)
	first := seedPending(t, gdb, u.ID, "TXFIRST0001")
	time.Sleep(5 * time.Millisecond)
	second := seedPending(t, gdb, u.ID, "TXSECOND001")

	out, err := NewPaymentStore(gdb).ListPending(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[0].ID != second.ID || out[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", out)
	}
	if out[0].User == nil || out[0].User.Email != "l@example.com" {
		t.Fatal("user not joined")
	}
}

func TestEventStore(t *testing.T) {
	gdb := setupTestDB(t)
	store := NewEventStore(gdb)
	ctx := context.Background()
	uid := uuid.New()

	if err := store.Record(ctx, uid, models.EventAIUsed, models.SourceAI, map[string]interface{}{"inputType": "text"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	n, err := store.Count(ctx, uid, models.EventAIUsed)
	if err != nil || n != 1 {
		t.Fatalf("count = %d err=%v", n, err)
	}
	recent, err := store.Recent(ctx, models.EventAIUsed, 10)
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent = %d err=%v", len(recent), err)
	}
}

func TestApproveLeavesAdminRole(t *testing.T) {
	gdb := setupTestDB(t)
	admin := seedUser(t, gdb, "owner-admin@example.com", models.RoleAdmin)
	p := seedPending(t, gdb, admin.ID, "0xadminpaid01")

	got, changed, err := NewPaymentStore(gdb).Approve(context.Background(), p.ID, admin.ID, time.Now())
	if err != nil || !changed {
		t.Fatalf("approve: changed=%v err=%v", changed, err)
	}
	if got.Status != models.PaymentApproved {
		t.Fatalf("status = %s", got.Status)
	}
	owner, _ := NewUserStore(gdb).ByID(context.Background(), admin.ID)
	if owner.Role != models.RoleAdmin {
		t.Fatalf("role = %s, want admin", owner.Role)
	}
}

func TestPaymentCreateDuplicateTx(t *testing.T) {
	gdb := setupTestDB(t)
	u := seedUser(t, gdb, "dup@example.com", models.RoleUser)
	seedPending(t, gdb, u.ID, "TXDUPLICATE1")

	err := NewPaymentStore(gdb).Create(context.Background(), &models.PaymentRequest{
		UserID: u.ID, TxID: "TXDUPLICATE1", Amount: "1 USDT", Provider: models.ProviderManual, Status: models.PaymentPending,
	})
	if !apperr.Is(err, apperr.KindStateConflict) || !errors.Is(err, ErrDuplicateTx) {
		t.Fatalf("expected duplicate conflict, got %v", err)
	}

	err = NewPaymentStore(gdb).Create(context.Background(), &models.PaymentRequest{
		UserID: u.ID, TxID: "TXDUPLICATE1", Amount: "1 USDT", Provider: models.ProviderStripe, Status: models.PaymentPending,
	})
	if err != nil {
		t.Fatalf("same tx id under another provider: %v", err)
	}
}
