package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caremesh/telehealth-booking/internal/identity"
	"github.com/caremesh/telehealth-booking/internal/payment"
	"github.com/caremesh/telehealth-booking/internal/store"
	"github.com/caremesh/telehealth-booking/internal/store/storetest"
)

type svcRepoStub struct {
	Repository

	plan    *Plan
	current *Subscription
	byID    *Subscription

	inserted    *Subscription
	activated   int
	activateErr error
	renewed     int
	statusSets  []struct{ from, to Status }
}

func (r *svcRepoStub) GetPlanByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Plan, error) {
	if r.plan == nil || r.plan.ID != id {
		return nil, ErrPlanNotFound
	}
	return r.plan, nil
}

func (r *svcRepoStub) GetCurrentByUserForUpdate(ctx context.Context, q store.Querier, userID uuid.UUID) (*Subscription, error) {
	if r.current == nil {
		return nil, ErrSubscriptionNotFound
	}
	return r.current, nil
}

func (r *svcRepoStub) Insert(ctx context.Context, q store.Querier, s *Subscription) error {
	r.inserted = s
	return nil
}

func (r *svcRepoStub) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Subscription, error) {
	if r.byID == nil || r.byID.ID != id {
		return nil, ErrSubscriptionNotFound
	}
	copied := *r.byID
	return &copied, nil
}

func (r *svcRepoStub) Activate(ctx context.Context, q store.Querier, id uuid.UUID) (*Subscription, error) {
	if r.activateErr != nil {
		return nil, r.activateErr
	}
	r.activated++
	r.byID.Status = StatusActive
	copied := *r.byID
	return &copied, nil
}

func (r *svcRepoStub) Renew(ctx context.Context, q store.Querier, id uuid.UUID) (*Subscription, error) {
	r.renewed++
	copied := *r.byID
	return &copied, nil
}

func (r *svcRepoStub) SetStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to Status) (*Subscription, error) {
	if r.byID == nil || r.byID.ID != id || r.byID.Status != from {
		return nil, ErrSubscriptionNotFound
	}
	r.statusSets = append(r.statusSets, struct{ from, to Status }{from, to})
	r.byID.Status = to
	copied := *r.byID
	return &copied, nil
}

type intentsStub struct {
	intents    []payment.CreateIntentInput
	registered int
	bySubject  *payment.Payment
	cancelled  []uuid.UUID
}

func (p *intentsStub) CreateIntent(ctx context.Context, q store.Querier, in payment.CreateIntentInput) (*payment.Payment, error) {
	p.intents = append(p.intents, in)
	return &payment.Payment{ID: uuid.New(), Amount: in.BaseFee, Status: payment.StatusPending, Subject: in.Subject}, nil
}

func (p *intentsStub) RegisterWithGateway(ctx context.Context, pay *payment.Payment) {
	p.registered++
}

func (p *intentsStub) GetBySubject(ctx context.Context, subject payment.SubjectRef) (*payment.Payment, error) {
	if p.bySubject == nil {
		return nil, payment.ErrPaymentNotFound
	}
	return p.bySubject, nil
}

func (p *intentsStub) CancelPending(ctx context.Context, q store.Querier, paymentID uuid.UUID) error {
	p.cancelled = append(p.cancelled, paymentID)
	return nil
}

func newSvc(repo *svcRepoStub, intents *intentsStub) *Service {
	return NewService(repo, NewQuotaGate(repo), &storetest.DB{}, intents, zap.NewNop())
}

func testPlan() *Plan {
	return &Plan{
		ID:                 uuid.New(),
		Name:               "Family Care",
		Price:              99900,
		DurationDays:       30,
		MaxConsultations:   6,
		MaxTherapySessions: 2,
	}
}

func TestPurchase_OpensPendingSubscriptionAndIntent(t *testing.T) {
	repo := &svcRepoStub{plan: testPlan()}
	intents := &intentsStub{}
	svc := newSvc(repo, intents)

	actor := identity.Identity{UserID: uuid.New(), Role: identity.RolePatient}
	sub, pay, err := svc.Purchase(context.Background(), actor, repo.plan.ID, payment.MethodCard)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	if sub.Status != StatusPending {
		t.Errorf("status = %s, want %s", sub.Status, StatusPending)
	}
	if sub.UserID != actor.UserID {
		t.Errorf("user = %s, want %s", sub.UserID, actor.UserID)
	}
	if repo.inserted == nil {
		t.Fatal("subscription was not inserted")
	}
	if pay.Amount != repo.plan.Price {
		t.Errorf("intent amount = %d, want plan price %d", pay.Amount, repo.plan.Price)
	}
	if got := intents.intents[0].Subject; got.Type != payment.SubjectSubscription || got.ID != sub.ID {
		t.Errorf("intent subject = %+v, want this subscription", got)
	}
	if intents.registered != 1 {
		t.Errorf("gateway registrations = %d, want 1", intents.registered)
	}
}

func TestPurchase_RejectsSecondSubscription(t *testing.T) {
	repo := &svcRepoStub{plan: testPlan(), current: &Subscription{ID: uuid.New(), Status: StatusActive}}
	svc := newSvc(repo, &intentsStub{})

	actor := identity.Identity{UserID: uuid.New(), Role: identity.RolePatient}
	if _, _, err := svc.Purchase(context.Background(), actor, repo.plan.ID, payment.MethodUPI); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("error = %v, want ErrAlreadySubscribed", err)
	}
	if repo.inserted != nil {
		t.Error("rejected purchase must not insert a subscription")
	}
}

func TestPurchase_UnknownPlan(t *testing.T) {
	svc := newSvc(&svcRepoStub{}, &intentsStub{})

	actor := identity.Identity{UserID: uuid.New(), Role: identity.RolePatient}
	if _, _, err := svc.Purchase(context.Background(), actor, uuid.New(), payment.MethodUPI); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("error = %v, want ErrPlanNotFound", err)
	}
}

func resolvedPayment(subID uuid.UUID, status payment.Status) *payment.Payment {
	return &payment.Payment{
		ID:      uuid.New(),
		Status:  status,
		Subject: payment.SubjectRef{Type: payment.SubjectSubscription, ID: subID},
	}
}

func TestHandlePaymentResolved_ActivatesPendingPurchase(t *testing.T) {
	sub := &Subscription{ID: uuid.New(), Status: StatusPending}
	repo := &svcRepoStub{byID: sub}
	svc := newSvc(repo, &intentsStub{})

	if err := svc.HandlePaymentResolved(context.Background(), resolvedPayment(sub.ID, payment.StatusCompleted)); err != nil {
		t.Fatalf("HandlePaymentResolved: %v", err)
	}
	if repo.activated != 1 {
		t.Errorf("activations = %d, want 1", repo.activated)
	}
	if repo.byID.Status != StatusActive {
		t.Errorf("status = %s, want %s", repo.byID.Status, StatusActive)
	}
}

func TestHandlePaymentResolved_RenewsActiveSubscription(t *testing.T) {
	sub := &Subscription{ID: uuid.New(), Status: StatusActive}
	repo := &svcRepoStub{byID: sub}
	svc := newSvc(repo, &intentsStub{})

	if err := svc.HandlePaymentResolved(context.Background(), resolvedPayment(sub.ID, payment.StatusCompleted)); err != nil {
		t.Fatalf("HandlePaymentResolved: %v", err)
	}
	if repo.renewed != 1 {
		t.Errorf("renewals = %d, want 1", repo.renewed)
	}
	if repo.activated != 0 {
		t.Error("an active subscription must renew, not activate")
	}
}

func TestHandlePaymentResolved_BlockedActivationParksDuplicate(t *testing.T) {
	sub := &Subscription{ID: uuid.New(), Status: StatusPending}
	repo := &svcRepoStub{byID: sub, activateErr: ErrSubscriptionNotFound}
	svc := newSvc(repo, &intentsStub{})

	if err := svc.HandlePaymentResolved(context.Background(), resolvedPayment(sub.ID, payment.StatusCompleted)); err != nil {
		t.Fatalf("HandlePaymentResolved: %v", err)
	}
	if repo.byID.Status != StatusCancelled {
		t.Errorf("status = %s, want %s for the parked duplicate", repo.byID.Status, StatusCancelled)
	}
}

func TestHandlePaymentResolved_FailureCancelsPendingPurchase(t *testing.T) {
	sub := &Subscription{ID: uuid.New(), Status: StatusPending}
	repo := &svcRepoStub{byID: sub}
	svc := newSvc(repo, &intentsStub{})

	if err := svc.HandlePaymentResolved(context.Background(), resolvedPayment(sub.ID, payment.StatusFailed)); err != nil {
		t.Fatalf("HandlePaymentResolved: %v", err)
	}
	if repo.byID.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", repo.byID.Status, StatusCancelled)
	}
}

func TestHandlePaymentResolved_WrongSubject(t *testing.T) {
	svc := newSvc(&svcRepoStub{}, &intentsStub{})

	p := &payment.Payment{Subject: payment.SubjectRef{Type: payment.SubjectAppointment, ID: uuid.New()}}
	if err := svc.HandlePaymentResolved(context.Background(), p); !errors.Is(err, ErrPaymentSubjectWrong) {
		t.Errorf("error = %v, want ErrPaymentSubjectWrong", err)
	}
}

type sweepRepoStub struct {
	Repository

	plan      *Plan
	overdue   []Subscription
	renewable []Subscription

	expirations map[uuid.UUID]Status // records the from-status of each expiry
}

func (r *sweepRepoStub) FindOverdue(ctx context.Context, q store.Querier, now time.Time) ([]Subscription, error) {
	return r.overdue, nil
}

func (r *sweepRepoStub) FindRenewable(ctx context.Context, q store.Querier, now time.Time) ([]Subscription, error) {
	return r.renewable, nil
}

func (r *sweepRepoStub) SetStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to Status) (*Subscription, error) {
	if to != StatusExpired {
		return nil, errors.New("sweep must only expire")
	}
	if r.expirations == nil {
		r.expirations = make(map[uuid.UUID]Status)
	}
	r.expirations[id] = from
	return &Subscription{ID: id, Status: to}, nil
}

func (r *sweepRepoStub) GetPlanByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Plan, error) {
	if r.plan == nil || r.plan.ID != id {
		return nil, ErrPlanNotFound
	}
	return r.plan, nil
}

func TestRunRenewalSweep_Dispositions(t *testing.T) {
	now := time.Now()
	plan := testPlan()

	pausedOverdue := Subscription{ID: uuid.New(), PlanID: plan.ID, Status: StatusPaused, EndDate: now.Add(-time.Hour)}
	lapsed := Subscription{ID: uuid.New(), PlanID: plan.ID, Status: StatusActive, AutoRenew: false, EndDate: now.Add(-time.Hour)}
	renewing := Subscription{ID: uuid.New(), PlanID: plan.ID, Status: StatusActive, AutoRenew: true, EndDate: now.Add(-time.Hour)}
	abandoned := Subscription{ID: uuid.New(), PlanID: plan.ID, Status: StatusActive, AutoRenew: true, EndDate: now.Add(-8 * 24 * time.Hour)}

	repo := &sweepRepoStub{
		plan:      plan,
		overdue:   []Subscription{pausedOverdue, lapsed, renewing, abandoned},
		renewable: []Subscription{renewing},
	}
	intents := &intentsStub{}
	svc := NewService(repo, NewQuotaGate(repo), &storetest.DB{}, intents, zap.NewNop())

	if err := svc.RunRenewalSweep(context.Background()); err != nil {
		t.Fatalf("RunRenewalSweep: %v", err)
	}

	if from, ok := repo.expirations[pausedOverdue.ID]; !ok || from != StatusPaused {
		t.Error("paused subscription past its end date must expire")
	}
	if _, ok := repo.expirations[lapsed.ID]; !ok {
		t.Error("non-renewing subscription past its end date must expire")
	}
	if _, ok := repo.expirations[renewing.ID]; ok {
		t.Error("auto-renewing subscription still inside the grace window must not expire")
	}
	if _, ok := repo.expirations[abandoned.ID]; !ok {
		t.Error("auto-renewing subscription stuck past the grace window must expire")
	}
	if len(intents.intents) != 1 || intents.intents[0].BaseFee != plan.Price {
		t.Errorf("renewal intents = %+v, want one at the plan price", intents.intents)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	owner := uuid.New()

	t.Run("pause and resume", func(t *testing.T) {
		sub := &Subscription{ID: uuid.New(), UserID: owner, Status: StatusActive, EndDate: time.Now().AddDate(0, 0, 10)}
		repo := &svcRepoStub{byID: sub}
		svc := newSvc(repo, &intentsStub{})
		actor := identity.Identity{UserID: owner, Role: identity.RolePatient}

		paused, err := svc.Pause(context.Background(), actor, sub.ID)
		if err != nil {
			t.Fatalf("Pause: %v", err)
		}
		if paused.Status != StatusPaused {
			t.Errorf("status = %s, want %s", paused.Status, StatusPaused)
		}

		resumed, err := svc.Resume(context.Background(), actor, sub.ID)
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if resumed.Status != StatusActive {
			t.Errorf("status = %s, want %s", resumed.Status, StatusActive)
		}
	})

	t.Run("resume after window closed", func(t *testing.T) {
		sub := &Subscription{ID: uuid.New(), UserID: owner, Status: StatusPaused, EndDate: time.Now().Add(-time.Hour)}
		repo := &svcRepoStub{byID: sub}
		svc := newSvc(repo, &intentsStub{})
		actor := identity.Identity{UserID: owner, Role: identity.RolePatient}

		if _, err := svc.Resume(context.Background(), actor, sub.ID); !errors.Is(err, ErrSubscriptionExpired) {
			t.Errorf("error = %v, want ErrSubscriptionExpired", err)
		}
	})

	t.Run("foreign subscription looks missing", func(t *testing.T) {
		sub := &Subscription{ID: uuid.New(), UserID: owner, Status: StatusActive, EndDate: time.Now().AddDate(0, 0, 10)}
		repo := &svcRepoStub{byID: sub}
		svc := newSvc(repo, &intentsStub{})
		stranger := identity.Identity{UserID: uuid.New(), Role: identity.RolePatient}

		if _, err := svc.Pause(context.Background(), stranger, sub.ID); !errors.Is(err, ErrSubscriptionNotFound) {
			t.Errorf("error = %v, want ErrSubscriptionNotFound", err)
		}
	})

	t.Run("cancel forfeits the subscription", func(t *testing.T) {
		sub := &Subscription{ID: uuid.New(), UserID: owner, Status: StatusPaused, EndDate: time.Now().AddDate(0, 0, 10)}
		repo := &svcRepoStub{byID: sub}
		svc := newSvc(repo, &intentsStub{})
		actor := identity.Identity{UserID: owner, Role: identity.RolePatient}

		got, err := svc.Cancel(context.Background(), actor, sub.ID)
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if got.Status != StatusCancelled {
			t.Errorf("status = %s, want %s", got.Status, StatusCancelled)
		}
	})

	t.Run("cancel of terminal subscription rejected", func(t *testing.T) {
		sub := &Subscription{ID: uuid.New(), UserID: owner, Status: StatusExpired}
		repo := &svcRepoStub{byID: sub}
		svc := newSvc(repo, &intentsStub{})
		actor := identity.Identity{UserID: owner, Role: identity.RolePatient}

		if _, err := svc.Cancel(context.Background(), actor, sub.ID); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("error = %v, want ErrIllegalTransition", err)
		}
	})
}
