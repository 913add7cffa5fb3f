package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/caremesh/telehealth-booking/internal/events"
	"github.com/caremesh/telehealth-booking/internal/identity"
	"github.com/caremesh/telehealth-booking/internal/payment"
	redisclient "github.com/caremesh/telehealth-booking/internal/redis"
	"github.com/caremesh/telehealth-booking/internal/store"
	"github.com/caremesh/telehealth-booking/internal/store/storetest"
	"github.com/caremesh/telehealth-booking/internal/subscription"
)

type repoStub struct {
	patient  *Patient
	provider *Provider
	appt     *Appointment
	conflict bool

	inserted     *Appointment
	history      []HistoryEntry
	events       int
	rescheduled  bool
	listPatient  []Appointment
	listProvider []Appointment
}

func (r *repoStub) GetPatientByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Patient, error) {
	if r.patient == nil || r.patient.ID != id {
		return nil, ErrPatientNotFound
	}
	return r.patient, nil
}

func (r *repoStub) GetProviderByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Provider, error) {
	if r.provider == nil || r.provider.ID != id {
		return nil, ErrProviderNotFound
	}
	return r.provider, nil
}

func (r *repoStub) LockProviderSchedule(ctx context.Context, q store.Querier, providerID uuid.UUID) error {
	return nil
}

func (r *repoStub) HasConflict(ctx context.Context, q store.Querier, providerID uuid.UUID, windowStart, windowEnd time.Time, excludeID *uuid.UUID) (bool, error) {
	return r.conflict, nil
}

func (r *repoStub) Insert(ctx context.Context, q store.Querier, a *Appointment) error {
	r.inserted = a
	return nil
}

func (r *repoStub) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Appointment, error) {
	if r.appt == nil || r.appt.ID != id {
		return nil, ErrNotFound
	}
	copied := *r.appt
	return &copied, nil
}

func (r *repoStub) GetByIDForUpdate(ctx context.Context, q store.Querier, id uuid.UUID) (*Appointment, error) {
	return r.GetByID(ctx, q, id)
}

func (r *repoStub) UpdateStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to Status) (*Appointment, error) {
	if r.appt == nil || r.appt.ID != id || r.appt.Status != from {
		return nil, ErrNotFound
	}
	r.appt.Status = to
	copied := *r.appt
	return &copied, nil
}

func (r *repoStub) Reschedule(ctx context.Context, q store.Querier, id uuid.UUID, newTime time.Time) (*Appointment, error) {
	if r.appt == nil || r.appt.ID != id || (r.appt.Status != StatusScheduled && r.appt.Status != StatusConfirmed) {
		return nil, ErrNotFound
	}
	r.appt.ScheduledAt = newTime
	r.appt.Status = StatusScheduled
	r.rescheduled = true
	copied := *r.appt
	return &copied, nil
}

func (r *repoStub) InsertHistory(ctx context.Context, q store.Querier, h HistoryEntry) error {
	r.history = append(r.history, h)
	return nil
}

func (r *repoStub) ListHistory(ctx context.Context, q store.Querier, appointmentID uuid.UUID) ([]HistoryEntry, error) {
	return r.history, nil
}

func (r *repoStub) ListByPatient(ctx context.Context, q store.Querier, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listPatient, nil
}

func (r *repoStub) ListByProvider(ctx context.Context, q store.Querier, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return r.listProvider, nil
}

func (r *repoStub) InsertEvent(ctx context.Context, q store.Querier, ev EventLog) error {
	r.events++
	return nil
}

type lockerStub struct {
	err   error
	calls int
}

func (l *lockerStub) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	l.calls++
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

type gateStub struct {
	result     subscription.ConsumeResult
	consumeErr error
	refunds    int
}

func (g *gateStub) Consume(ctx context.Context, q store.Querier, userID uuid.UUID, category subscription.Category) (subscription.ConsumeResult, error) {
	if g.consumeErr != nil {
		return subscription.ConsumeResult{}, g.consumeErr
	}
	return g.result, nil
}

func (g *gateStub) RefundQuota(ctx context.Context, q store.Querier, subscriptionID uuid.UUID, category subscription.Category) error {
	g.refunds++
	return nil
}

type refundCall struct {
	paymentID uuid.UUID
	amount    int64
}

type paymentsStub struct {
	bySubject    *payment.Payment
	bySubjectErr error
	stale        []payment.Payment

	intents        []payment.CreateIntentInput
	registered     int
	cancelled      []uuid.UUID
	refunds        []refundCall
	subjectQuerier store.Querier
}

func (p *paymentsStub) CreateIntent(ctx context.Context, q store.Querier, in payment.CreateIntentInput) (*payment.Payment, error) {
	p.intents = append(p.intents, in)
	return &payment.Payment{ID: uuid.New(), Amount: in.BaseFee, Status: payment.StatusPending, Subject: in.Subject}, nil
}

func (p *paymentsStub) RegisterWithGateway(ctx context.Context, pay *payment.Payment) {
	p.registered++
}

func (p *paymentsStub) GetBySubjectForUpdate(ctx context.Context, q store.Querier, subject payment.SubjectRef) (*payment.Payment, error) {
	p.subjectQuerier = q
	if p.bySubjectErr != nil {
		return nil, p.bySubjectErr
	}
	if p.bySubject == nil {
		return nil, payment.ErrPaymentNotFound
	}
	return p.bySubject, nil
}

func (p *paymentsStub) CancelPending(ctx context.Context, q store.Querier, paymentID uuid.UUID) error {
	p.cancelled = append(p.cancelled, paymentID)
	return nil
}

func (p *paymentsStub) Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*payment.Refund, error) {
	p.refunds = append(p.refunds, refundCall{paymentID: paymentID, amount: amount})
	return &payment.Refund{ID: uuid.New(), PaymentID: paymentID, Amount: amount}, nil
}

func (p *paymentsStub) FindStalePending(ctx context.Context, subjectType payment.SubjectType, olderThan time.Time) ([]payment.Payment, error) {
	return p.stale, nil
}

type videoStub struct {
	sessions int
}

func (v *videoStub) CreateSession(ctx context.Context, appointmentID, patientID, providerID uuid.UUID) (string, error) {
	v.sessions++
	return "https://video.example.com/room", nil
}

type fixture struct {
	repo     *repoStub
	locker   *lockerStub
	gate     *gateStub
	payments *paymentsStub
	video    *videoStub
	svc      *Service

	patientID  uuid.UUID
	providerID uuid.UUID
}

func newFixture() *fixture {
	patientID := uuid.New()
	providerID := uuid.New()

	f := &fixture{
		repo: &repoStub{
			patient: &Patient{ID: patientID, Name: "Asha Rao"},
			provider: &Provider{
				ID:              providerID,
				Name:            "Dr. Mehta",
				Active:          true,
				ConsultationFee: 500,
				HomeVisitFee:    900,
			},
		},
		locker:   &lockerStub{},
		gate:     &gateStub{result: subscription.ConsumeResult{SubscriptionID: uuid.New(), Consumed: true}},
		payments: &paymentsStub{},
		video:    &videoStub{},

		patientID:  patientID,
		providerID: providerID,
	}

	f.svc = NewService(
		f.repo,
		&storetest.DB{},
		f.locker,
		f.gate,
		f.payments,
		f.video,
		events.NopPublisher{},
		DefaultPolicy(),
		zap.NewNop(),
	)
	return f
}

func (f *fixture) patient() identity.Identity {
	return identity.Identity{UserID: f.patientID, Role: identity.RolePatient}
}

func (f *fixture) createRequest() CreateRequest {
	return CreateRequest{
		ProviderID:      f.providerID,
		Type:            TypeConsultation,
		Mode:            ModeVideo,
		ScheduledAt:     time.Now().Add(48 * time.Hour),
		DurationMinutes: 30,
		Method:          payment.MethodUPI,
	}
}

func TestCreate_BooksAndOpensPayment(t *testing.T) {
	f := newFixture()

	appt, pay, err := f.svc.Create(context.Background(), f.patient(), f.createRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if appt.Status != StatusScheduled {
		t.Errorf("status = %s, want %s", appt.Status, StatusScheduled)
	}
	if appt.PatientID != f.patientID {
		t.Errorf("patient = %s, want caller %s", appt.PatientID, f.patientID)
	}
	if !appt.QuotaConsumed || appt.SubscriptionID == nil {
		t.Error("appointment must record the consumed quota")
	}
	if pay == nil || pay.Status != payment.StatusPending {
		t.Fatalf("payment = %+v, want pending intent", pay)
	}
	if len(f.payments.intents) != 1 {
		t.Fatalf("intents created = %d, want 1", len(f.payments.intents))
	}
	if got := f.payments.intents[0].BaseFee; got != 500 {
		t.Errorf("base fee = %d, want consultation fee 500", got)
	}
	if f.payments.registered != 1 {
		t.Errorf("gateway registrations = %d, want 1", f.payments.registered)
	}
}

func TestCreate_HomeVisitUsesHomeVisitFee(t *testing.T) {
	f := newFixture()
	req := f.createRequest()
	req.Mode = ModeHomeVisit

	if _, _, err := f.svc.Create(context.Background(), f.patient(), req); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := f.payments.intents[0].BaseFee; got != 900 {
		t.Errorf("base fee = %d, want home visit fee 900", got)
	}
}

func TestCreate_PatientCannotBookForOthers(t *testing.T) {
	f := newFixture()
	req := f.createRequest()
	req.PatientID = uuid.New() // ignored for patients

	appt, _, err := f.svc.Create(context.Background(), f.patient(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if appt.PatientID != f.patientID {
		t.Errorf("patient = %s, want the caller %s", appt.PatientID, f.patientID)
	}
}

func TestCreate_ProviderRoleRejected(t *testing.T) {
	f := newFixture()
	actor := identity.Identity{UserID: uuid.New(), Role: identity.RoleProvider}

	if _, _, err := f.svc.Create(context.Background(), actor, f.createRequest()); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()

	short := f.createRequest()
	short.DurationMinutes = 10
	if _, _, err := f.svc.Create(context.Background(), f.patient(), short); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("10 minute booking error = %v, want ErrInvalidDuration", err)
	}

	past := f.createRequest()
	past.ScheduledAt = time.Now().Add(-time.Hour)
	if _, _, err := f.svc.Create(context.Background(), f.patient(), past); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("past booking error = %v, want ErrInvalidSchedule", err)
	}
}

func TestCreate_InactiveProviderRejected(t *testing.T) {
	f := newFixture()
	f.repo.provider.Active = false

	if _, _, err := f.svc.Create(context.Background(), f.patient(), f.createRequest()); !errors.Is(err, ErrProviderInactive) {
		t.Errorf("error = %v, want ErrProviderInactive", err)
	}
}

func TestCreate_ConflictLeavesNothingBehind(t *testing.T) {
	f := newFixture()
	f.repo.conflict = true

	_, _, err := f.svc.Create(context.Background(), f.patient(), f.createRequest())
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("error = %v, want ErrSlotUnavailable", err)
	}
	if f.repo.inserted != nil {
		t.Error("conflicting booking must not insert an appointment")
	}
	if len(f.payments.intents) != 0 {
		t.Error("conflicting booking must not open a payment")
	}
}

func TestCreate_LockContention(t *testing.T) {
	f := newFixture()
	f.locker.err = redisclient.ErrLockNotAcquired

	if _, _, err := f.svc.Create(context.Background(), f.patient(), f.createRequest()); !errors.Is(err, ErrSlotContended) {
		t.Errorf("error = %v, want ErrSlotContended", err)
	}
}

func TestCreate_QuotaExhaustedPropagates(t *testing.T) {
	f := newFixture()
	f.gate.consumeErr = subscription.ErrQuotaExhausted

	_, _, err := f.svc.Create(context.Background(), f.patient(), f.createRequest())
	if !errors.Is(err, subscription.ErrQuotaExhausted) {
		t.Errorf("error = %v, want ErrQuotaExhausted", err)
	}
	if len(f.payments.intents) != 0 {
		t.Error("quota failure must not open a payment")
	}
}

func (f *fixture) withAppointment(status Status) *Appointment {
	subID := uuid.New()
	f.repo.appt = &Appointment{
		ID:              uuid.New(),
		PatientID:       f.patientID,
		ProviderID:      f.providerID,
		Type:            TypeConsultation,
		Mode:            ModeVideo,
		ScheduledAt:     time.Now().Add(48 * time.Hour),
		DurationMinutes: 30,
		Status:          status,
		SubscriptionID:  &subID,
		QuotaConsumed:   true,
	}
	return f.repo.appt
}

func TestUpdateStatus_Rules(t *testing.T) {
	t.Run("cancel must use the cancel operation", func(t *testing.T) {
		f := newFixture()
		appt := f.withAppointment(StatusScheduled)
		_, err := f.svc.UpdateStatus(context.Background(), f.patient(), appt.ID, StatusCancelled)
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("error = %v, want ErrIllegalTransition", err)
		}
	})

	t.Run("confirm is reserved for admins", func(t *testing.T) {
		f := newFixture()
		appt := f.withAppointment(StatusScheduled)
		_, err := f.svc.UpdateStatus(context.Background(), f.patient(), appt.ID, StatusConfirmed)
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("error = %v, want ErrIllegalTransition", err)
		}

		admin := identity.Identity{UserID: uuid.New(), Role: identity.RoleAdmin}
		updated, err := f.svc.UpdateStatus(context.Background(), admin, appt.ID, StatusConfirmed)
		if err != nil {
			t.Fatalf("admin confirm: %v", err)
		}
		if updated.Status != StatusConfirmed {
			t.Errorf("status = %s, want %s", updated.Status, StatusConfirmed)
		}
	})

	t.Run("no-show needs the window to elapse", func(t *testing.T) {
		f := newFixture()
		appt := f.withAppointment(StatusConfirmed)

		provider := identity.Identity{UserID: f.providerID, Role: identity.RoleProvider}
		if _, err := f.svc.UpdateStatus(context.Background(), provider, appt.ID, StatusNoShow); !errors.Is(err, ErrNotStartable) {
			t.Errorf("early no-show error = %v, want ErrNotStartable", err)
		}

		f.repo.appt.ScheduledAt = time.Now().Add(-2 * time.Hour)
		updated, err := f.svc.UpdateStatus(context.Background(), provider, appt.ID, StatusNoShow)
		if err != nil {
			t.Fatalf("no-show after window: %v", err)
		}
		if updated.Status != StatusNoShow {
			t.Errorf("status = %s, want %s", updated.Status, StatusNoShow)
		}
	})

	t.Run("completed only from in_progress", func(t *testing.T) {
		f := newFixture()
		appt := f.withAppointment(StatusScheduled)
		provider := identity.Identity{UserID: f.providerID, Role: identity.RoleProvider}
		if _, err := f.svc.UpdateStatus(context.Background(), provider, appt.ID, StatusCompleted); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("error = %v, want ErrIllegalTransition", err)
		}
	})
}

func TestCancel_RestoresQuotaAndVoidsPendingPayment(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusScheduled)
	f.payments.bySubject = &payment.Payment{ID: uuid.New(), Status: payment.StatusPending}

	cancelled, err := f.svc.Cancel(context.Background(), f.patient(), appt.ID, "feeling better")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", cancelled.Status, StatusCancelled)
	}
	if f.gate.refunds != 1 {
		t.Errorf("quota refunds = %d, want 1", f.gate.refunds)
	}
	if len(f.payments.cancelled) != 1 {
		t.Errorf("voided payments = %d, want 1", len(f.payments.cancelled))
	}
	if len(f.payments.refunds) != 0 {
		t.Error("pending payment must be voided, not refunded")
	}
	if len(f.repo.history) != 1 || f.repo.history[0].Action != HistoryCancelled {
		t.Errorf("history = %+v, want one cancellation entry", f.repo.history)
	}
}

func TestCancel_RefundsCompletedPaymentPerPolicy(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusConfirmed)
	// Slot is 48h away: full refund window.
	f.payments.bySubject = &payment.Payment{ID: uuid.New(), Status: payment.StatusCompleted, FinalAmount: 590}

	if _, err := f.svc.Cancel(context.Background(), f.patient(), appt.ID, "travel"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(f.payments.refunds) != 1 {
		t.Fatalf("refunds = %d, want 1", len(f.payments.refunds))
	}
	if got := f.payments.refunds[0].amount; got != 590 {
		t.Errorf("refund amount = %d, want full 590", got)
	}
}

func TestCancel_SettlesPaymentOnTheCancelTransaction(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusScheduled)
	// The booking was opened against a PENDING intent, but the gateway
	// captured it just before the cancel transaction took the row lock.
	f.payments.bySubject = &payment.Payment{ID: uuid.New(), Status: payment.StatusCompleted, FinalAmount: 590}

	if _, err := f.svc.Cancel(context.Background(), f.patient(), appt.ID, "change of plans"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if _, ok := f.payments.subjectQuerier.(pgx.Tx); !ok {
		t.Error("payment must be read under the cancel transaction's row lock")
	}
	if len(f.payments.cancelled) != 0 {
		t.Error("a captured payment must not be voided")
	}
	if len(f.payments.refunds) != 1 {
		t.Fatalf("refunds = %d, want 1: a payment completed at the gateway must be refunded, not dropped", len(f.payments.refunds))
	}
}

func TestCancel_TerminalStatesRejected(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusCompleted)

	if _, err := f.svc.Cancel(context.Background(), f.patient(), appt.ID, "too late"); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("error = %v, want ErrIllegalTransition", err)
	}
	if f.gate.refunds != 0 {
		t.Error("failed cancel must not touch quota")
	}
}

func TestReschedule_ConflictLeavesAppointmentUntouched(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusConfirmed)
	originalTime := appt.ScheduledAt
	f.repo.conflict = true

	_, err := f.svc.Reschedule(context.Background(), f.patient(), appt.ID, time.Now().Add(72*time.Hour), "conflict test")
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("error = %v, want ErrSlotUnavailable", err)
	}
	if f.repo.rescheduled {
		t.Error("conflicting reschedule must not move the appointment")
	}
	if !f.repo.appt.ScheduledAt.Equal(originalTime) || f.repo.appt.Status != StatusConfirmed {
		t.Error("appointment must keep its original window and status")
	}
}

func TestReschedule_MovesAndRecordsHistory(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusConfirmed)
	newTime := time.Now().Add(72 * time.Hour)

	moved, err := f.svc.Reschedule(context.Background(), f.patient(), appt.ID, newTime, "work trip")
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if moved.Status != StatusScheduled {
		t.Errorf("status = %s, want %s after reschedule", moved.Status, StatusScheduled)
	}
	if !moved.ScheduledAt.Equal(newTime) {
		t.Errorf("scheduled_at = %s, want %s", moved.ScheduledAt, newTime)
	}
	if len(f.repo.history) != 1 || f.repo.history[0].Action != HistoryRescheduled {
		t.Errorf("history = %+v, want one reschedule entry", f.repo.history)
	}
}

func TestReschedule_PastTimeRejected(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusScheduled)

	_, err := f.svc.Reschedule(context.Background(), f.patient(), appt.ID, time.Now().Add(-time.Hour), "")
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("error = %v, want ErrInvalidSchedule", err)
	}
}

func TestHandlePaymentResolved_ConfirmsAndOpensVideo(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusScheduled)

	p := &payment.Payment{
		ID:      uuid.New(),
		Status:  payment.StatusCompleted,
		Subject: payment.SubjectRef{Type: payment.SubjectAppointment, ID: appt.ID},
	}
	if err := f.svc.HandlePaymentResolved(context.Background(), p); err != nil {
		t.Fatalf("HandlePaymentResolved: %v", err)
	}
	if f.repo.appt.Status != StatusConfirmed {
		t.Errorf("status = %s, want %s", f.repo.appt.Status, StatusConfirmed)
	}
	if f.video.sessions != 1 {
		t.Errorf("video sessions = %d, want 1", f.video.sessions)
	}

	// Replayed webhook: already confirmed, nothing changes.
	if err := f.svc.HandlePaymentResolved(context.Background(), p); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if f.video.sessions != 1 {
		t.Error("replay must not open another video session")
	}
}

func TestHandlePaymentResolved_FailureCancelsBooking(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusScheduled)

	p := &payment.Payment{
		ID:      uuid.New(),
		Status:  payment.StatusFailed,
		Subject: payment.SubjectRef{Type: payment.SubjectAppointment, ID: appt.ID},
	}
	if err := f.svc.HandlePaymentResolved(context.Background(), p); err != nil {
		t.Fatalf("HandlePaymentResolved: %v", err)
	}
	if f.repo.appt.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", f.repo.appt.Status, StatusCancelled)
	}
	if f.gate.refunds != 1 {
		t.Errorf("quota refunds = %d, want 1", f.gate.refunds)
	}
}

func TestExpirePendingPayments_CancelsStaleBookings(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusScheduled)
	f.payments.stale = []payment.Payment{{
		ID:      uuid.New(),
		Status:  payment.StatusPending,
		Subject: payment.SubjectRef{Type: payment.SubjectAppointment, ID: appt.ID},
	}}

	if err := f.svc.ExpirePendingPayments(context.Background(), 30*time.Minute); err != nil {
		t.Fatalf("ExpirePendingPayments: %v", err)
	}
	if f.repo.appt.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", f.repo.appt.Status, StatusCancelled)
	}
}

func TestAuthorization_HidesForeignAppointments(t *testing.T) {
	f := newFixture()
	appt := f.withAppointment(StatusScheduled)

	stranger := identity.Identity{UserID: uuid.New(), Role: identity.RolePatient}
	if _, err := f.svc.Get(context.Background(), stranger, appt.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign patient error = %v, want ErrNotFound", err)
	}

	otherProvider := identity.Identity{UserID: uuid.New(), Role: identity.RoleProvider}
	if _, err := f.svc.Get(context.Background(), otherProvider, appt.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign provider error = %v, want ErrNotFound", err)
	}

	owner := f.patient()
	if _, err := f.svc.Get(context.Background(), owner, appt.ID); err != nil {
		t.Errorf("owner error = %v, want nil", err)
	}

	provider := identity.Identity{UserID: f.providerID, Role: identity.RoleProvider}
	if _, err := f.svc.Get(context.Background(), provider, appt.ID); err != nil {
		t.Errorf("assigned provider error = %v, want nil", err)
	}
}

// serialLockerStub blocks like the Redis lock would under contention instead
// of failing fast, so racing bookings serialize and the loser observes the
// winner's inserted row.
type serialLockerStub struct {
	mu sync.Mutex
}

func (l *serialLockerStub) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

// calendarRepoStub keeps the inserted appointments and answers conflict
// checks from them, so the check-then-insert ordering actually matters.
type calendarRepoStub struct {
	*repoStub
	mu     sync.Mutex
	booked []*Appointment
}

func (r *calendarRepoStub) HasConflict(ctx context.Context, q store.Querier, providerID uuid.UUID, windowStart, windowEnd time.Time, excludeID *uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.booked {
		if a.ProviderID == providerID && a.ScheduledAt.Before(windowEnd) && windowStart.Before(a.WindowEnd()) {
			return true, nil
		}
	}
	return false, nil
}

func (r *calendarRepoStub) Insert(ctx context.Context, q store.Querier, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.booked = append(r.booked, a)
	return nil
}

func TestCreate_ConcurrentBookingsOneWinner(t *testing.T) {
	f := newFixture()
	repo := &calendarRepoStub{repoStub: f.repo}
	f.svc = NewService(
		repo,
		&storetest.DB{},
		&serialLockerStub{},
		f.gate,
		f.payments,
		f.video,
		events.NopPublisher{},
		DefaultPolicy(),
		zap.NewNop(),
	)

	const workers = 8
	req := f.createRequest()

	start := make(chan struct{})
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := f.svc.Create(context.Background(), f.patient(), req)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSlotUnavailable):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if won != 1 {
		t.Errorf("winners = %d, want exactly 1", won)
	}
	if lost != workers-1 {
		t.Errorf("losers = %d, want %d", lost, workers-1)
	}
	if len(repo.booked) != 1 {
		t.Errorf("appointments inserted = %d, want 1", len(repo.booked))
	}
	if len(f.payments.intents) != 1 {
		t.Errorf("payment intents = %d, want 1", len(f.payments.intents))
	}
}

func TestListAuthorization(t *testing.T) {
	f := newFixture()

	provider := identity.Identity{UserID: f.providerID, Role: identity.RoleProvider}
	if _, err := f.svc.ListByPatient(context.Background(), provider, f.patientID, 10, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("provider listing patient error = %v, want ErrNotFound", err)
	}

	patient := f.patient()
	if _, err := f.svc.ListByProvider(context.Background(), patient, f.providerID, time.Now(), time.Now().Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("patient listing provider error = %v, want ErrNotFound", err)
	}

	if _, err := f.svc.ListByPatient(context.Background(), patient, uuid.New(), 10, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("patient listing another patient error = %v, want ErrNotFound", err)
	}
}
