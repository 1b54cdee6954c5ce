package acknowledgements

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/database"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/rolegate"
)

type stubDirectory struct {
	users map[uuid.UUID]models.User
}

func (d *stubDirectory) add(role rolegate.Role) models.Actor {
	id := uuid.New()
	d.users[id] = models.User{ID: id, Role: string(role), Name: string(role)}
	return models.Actor{UserID: id, Role: role}
}

func (d *stubDirectory) GetUser(_ context.Context, id uuid.UUID) (models.User, error) {
	user, ok := d.users[id]
	if !ok {
		return models.User{}, apperr.NotFound("user", id)
	}
	return user, nil
}

func (d *stubDirectory) ListByRole(_ context.Context, role rolegate.Role) ([]models.User, error) {
	var out []models.User
	for _, user := range d.users {
		if user.Role == string(role) {
			out = append(out, user)
		}
	}
	return out, nil
}

type stubCache struct {
	mu          sync.Mutex
	counts      map[uuid.UUID]int64
	invalidated []uuid.UUID
}

func newStubCache() *stubCache { return &stubCache{counts: map[uuid.UUID]int64{}} }

func (c *stubCache) Get(_ context.Context, id uuid.UUID) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[id]
	return n, ok, nil
}

func (c *stubCache) Set(_ context.Context, id uuid.UUID, n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[id] = n
	return nil
}

func (c *stubCache) Invalidate(_ context.Context, ids ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.counts, id)
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

type fixture struct {
	svc       *Service
	directory *stubDirectory
	cache     *stubCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "acks.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo := NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	directory := &stubDirectory{users: map[uuid.UUID]models.User{}}
	cache := newStubCache()
	return fixture{svc: NewService(repo, directory, cache, nil), directory: directory, cache: cache}
}

func intPtr(v int) *int { return &v }

func TestSetStatusIsForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chef := f.directory.add(rolegate.RoleChef)
	customer := uuid.New()

	ack, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{StaffID: &chef.UserID}, customer, "meal_preparation_due", intPtr(6))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ack.AssignedRole != string(rolegate.RoleChef) {
		t.Fatalf("expected role resolved from directory, got %q", ack.AssignedRole)
	}

	_, err = f.svc.SetStatus(ctx, ack.ID, models.AckStatusCompleted, chef)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindInvalidAckTransition {
		t.Fatalf("expected invalid ack transition, got %v", err)
	}
	if appErr.Current != models.AckStatusPending || appErr.Attempted != models.AckStatusCompleted {
		t.Fatalf("unexpected states %q -> %q", appErr.Current, appErr.Attempted)
	}

	acked, err := f.svc.SetStatus(ctx, ack.ID, models.AckStatusAcknowledged, chef)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.AcknowledgedAt == nil {
		t.Fatal("expected acknowledged_at to be set")
	}

	again, err := f.svc.SetStatus(ctx, ack.ID, models.AckStatusAcknowledged, chef)
	if err != nil {
		t.Fatalf("same status should be a no-op: %v", err)
	}
	if !again.AcknowledgedAt.Equal(*acked.AcknowledgedAt) {
		t.Fatal("no-op must not move acknowledged_at")
	}

	done, err := f.svc.SetStatus(ctx, ack.ID, models.AckStatusCompleted, chef)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}

	for _, status := range []string{models.AckStatusPending, models.AckStatusAcknowledged} {
		if _, err := f.svc.SetStatus(ctx, ack.ID, status, chef); !errors.Is(err, apperr.ErrInvalidAckTransition) {
			t.Fatalf("backward move to %s: expected invalid ack transition, got %v", status, err)
		}
	}
}

func TestSetStatusRejectsOtherStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chef := f.directory.add(rolegate.RoleChef)
	otherChef := f.directory.add(rolegate.RoleChef)
	admin := f.directory.add(rolegate.RoleAdmin)

	ack, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{StaffID: &chef.UserID}, uuid.New(), "meal_preparation_due", intPtr(6))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, ack.ID, models.AckStatusAcknowledged, otherChef); !errors.Is(err, apperr.ErrForbiddenTransition) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, ack.ID, models.AckStatusAcknowledged, admin); err != nil {
		t.Fatalf("admin should be able to acknowledge: %v", err)
	}
}

func TestSetStatusUnknownAcknowledgement(t *testing.T) {
	f := newFixture(t)
	admin := f.directory.add(rolegate.RoleAdmin)
	if _, err := f.svc.SetStatus(context.Background(), uuid.New(), models.AckStatusAcknowledged, admin); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.SetStatus(context.Background(), uuid.New(), "done", admin); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateDedupesPendingTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := uuid.New()
	pool := models.Assignment{Role: rolegate.RoleNutritionist}

	first, err := f.svc.CreateAcknowledgement(ctx, pool, customer, "diet_chart_ready", intPtr(4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := f.svc.CreateAcknowledgement(ctx, pool, customer, "diet_chart_ready", intPtr(4))
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("expected pending duplicate to be reused")
	}

	other, err := f.svc.CreateAcknowledgement(ctx, pool, customer, "diet_chart_ready", nil)
	if err != nil {
		t.Fatalf("create unstaged: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("different stage must not dedupe")
	}
}

func TestCreateValidatesAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := uuid.New()
	if _, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{Role: rolegate.RoleCustomer}, customer, "x", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for customer pool, got %v", err)
	}
	if _, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{Role: rolegate.RoleChef}, customer, " ", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty task type, got %v", err)
	}
	chef := f.directory.add(rolegate.RoleChef)
	if _, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{StaffID: &chef.UserID, Role: rolegate.RoleDelivery}, customer, "x", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for role mismatch, got %v", err)
	}
	if _, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{Role: rolegate.RoleChef}, customer, "x", intPtr(9)); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for stage 9, got %v", err)
	}
}

func TestPoolTasksSurfaceUntilClaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tech := f.directory.add(rolegate.RoleLabTechnician)
	otherTech := f.directory.add(rolegate.RoleLabTechnician)
	chef := f.directory.add(rolegate.RoleChef)

	ack, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{Role: rolegate.RoleLabTechnician}, uuid.New(), "sample_collection_due", intPtr(2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, staff := range []models.Actor{tech, otherTech} {
		pending, err := f.svc.ListPendingForStaff(ctx, staff.UserID)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(pending) != 1 || pending[0].ID != ack.ID {
			t.Fatalf("expected pool task for %s, got %+v", staff.UserID, pending)
		}
	}
	chefPending, err := f.svc.ListPendingForStaff(ctx, chef.UserID)
	if err != nil {
		t.Fatalf("list chef: %v", err)
	}
	if len(chefPending) != 0 {
		t.Fatalf("chef should not see lab tasks, got %+v", chefPending)
	}

	claimed, err := f.svc.SetStatus(ctx, ack.ID, models.AckStatusAcknowledged, tech)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if claimed.StaffID == nil || *claimed.StaffID != tech.UserID {
		t.Fatal("expected pool task to be claimed by the acknowledging technician")
	}
	if _, err := f.svc.SetStatus(ctx, ack.ID, models.AckStatusCompleted, otherTech); !errors.Is(err, apperr.ErrForbiddenTransition) {
		t.Fatalf("expected claimed task to be closed to other pool members, got %v", err)
	}
}

func TestResolveStageCompletesOpenTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := uuid.New()
	consultant := f.directory.add(rolegate.RoleConsultant)

	pending, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{Role: rolegate.RoleConsultant}, customer, "report_uploaded", intPtr(3))
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	direct, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{StaffID: &consultant.UserID}, customer, "review_results", intPtr(3))
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, direct.ID, models.AckStatusAcknowledged, consultant); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	untouched, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{Role: rolegate.RoleNutritionist}, customer, "diet_chart_ready", intPtr(4))
	if err != nil {
		t.Fatalf("create other stage: %v", err)
	}

	if err := f.svc.ResolveStage(ctx, customer, 3); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	all, err := f.svc.ListForCustomer(ctx, customer)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	byID := map[uuid.UUID]models.Acknowledgement{}
	for _, ack := range all {
		byID[ack.ID] = ack
	}
	for _, id := range []uuid.UUID{pending.ID, direct.ID} {
		ack := byID[id]
		if ack.Status != models.AckStatusCompleted || ack.AcknowledgedAt == nil || ack.CompletedAt == nil {
			t.Fatalf("expected %s completed with both timestamps, got %+v", id, ack)
		}
	}
	if byID[untouched.ID].Status != models.AckStatusPending {
		t.Fatal("stage 4 task must stay pending")
	}
}

func TestPendingCountUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tech := f.directory.add(rolegate.RoleLabTechnician)

	count, err := f.svc.PendingCount(ctx, tech.UserID)
	if err != nil || count != 0 {
		t.Fatalf("expected 0 pending, got %d (%v)", count, err)
	}
	if _, ok, _ := f.cache.Get(ctx, tech.UserID); !ok {
		t.Fatal("expected count to be cached")
	}

	if _, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{Role: rolegate.RoleLabTechnician}, uuid.New(), "sample_collection_due", intPtr(2)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok, _ := f.cache.Get(ctx, tech.UserID); ok {
		t.Fatal("expected pool member count to be invalidated")
	}

	count, err = f.svc.PendingCount(ctx, tech.UserID)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 pending, got %d (%v)", count, err)
	}
}

func TestConcurrentAcknowledgeAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.directory.add(rolegate.RoleAdmin)
	ack, err := f.svc.CreateAcknowledgement(ctx, models.Assignment{Role: rolegate.RoleChef}, uuid.New(), "meal_preparation_due", intPtr(6))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SetStatus(ctx, ack.ID, models.AckStatusAcknowledged, admin)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent acknowledge should converge, got %v", err)
		}
	}

	stored, err := f.svc.get(ctx, ack.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.AckStatusAcknowledged {
		t.Fatalf("expected acknowledged, got %s", stored.Status)
	}
}
