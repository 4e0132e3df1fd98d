package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/pkg/idx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// Plan is a premium offer.
type Plan struct {
	Name     string
	Duration time.Duration
	// Price in minor units of Currency.
	Price    int64
	Currency string
}

// Amount formats the price with two decimals.
func (p Plan) Amount() string {
	return fmt.Sprintf("%d.%02d", p.Price/100, p.Price%100)
}

// PlanLifetime is premium for 36500 days.
var PlanLifetime = Plan{
	Name:     "lifetime",
	Duration: 36500 * 24 * time.Hour,
	Price:    500,
	Currency: "PHP",
}

var plans = map[string]Plan{
	PlanLifetime.Name: PlanLifetime,
}

// LookupPlan finds a plan by name.
func LookupPlan(name string) (Plan, error) {
	p, ok := plans[name]
	if !ok {
		return Plan{}, fmt.Errorf("%w: unknown plan %q", domain.ErrInvalidArgument, name)
	}
	return p, nil
}

// ChargeRequest is what a PaymentGateway is asked to collect.
type ChargeRequest struct {
	TransactionID string
	Identity      string
	Plan          Plan
}

// PaymentGateway collects money for a plan.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) error
}

// MockGateway approves charges except for a random FailureRate share of them.
type MockGateway struct {
	FailureRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewMockGateway(failureRate float64) *MockGateway {
	return &MockGateway{
		FailureRate: min(max(failureRate, 0), 1),
		rnd:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (g *MockGateway) Charge(ctx context.Context, req ChargeRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	roll := g.rnd.Float64()
	g.mu.Unlock()
	if roll < g.FailureRate {
		return fmt.Errorf("%w: declined by mock gateway", domain.ErrPaymentDeclined)
	}
	return nil
}

// DisabledGateway refuses every charge.
type DisabledGateway struct{}

func (DisabledGateway) Charge(context.Context, ChargeRequest) error {
	return domain.ErrPaymentsDisabled
}

// PurchaseResult describes a completed purchase.
type PurchaseResult struct {
	TransactionID string
	Plan          Plan
	PremiumUntil  time.Time
}

// PurchaseService sells premium to authenticated sessions.
type PurchaseService struct {
	Gateway PaymentGateway
	Auditor Auditor
	Clock   Clock
	Logger  *slog.Logger
}

func NewPurchaseService(gateway PaymentGateway, auditor Auditor, logger *slog.Logger) *PurchaseService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PurchaseService{
		Gateway: gateway,
		Auditor: auditor,
		Clock:   SystemClock{},
		Logger:  slogx.Component(logger, "purchase"),
	}
}

// Purchase charges the session's identity for planName and upgrades the
// session to premium until now + plan duration.
func (s *PurchaseService) Purchase(ctx context.Context, sess *SessionManager, planName string) (PurchaseResult, error) {
	if sess == nil || !sess.IsAuthenticated() {
		return PurchaseResult{}, domain.ErrNotAuthenticated
	}
	plan, err := LookupPlan(planName)
	if err != nil {
		return PurchaseResult{}, err
	}
	identity := sess.Identity()
	if sess.Role().Name == domain.RoleAdmin {
		return PurchaseResult{}, fmt.Errorf("%w: admins already hold every premium capability", domain.ErrInvalidArgument)
	}

	txn := "txn_" + idx.New().String()
	details := map[string]string{
		"plan":        plan.Name,
		"amount":      plan.Amount(),
		"currency":    plan.Currency,
		"transaction": txn,
	}

	gateway := s.Gateway
	if gateway == nil {
		gateway = DisabledGateway{}
	}
	if err := gateway.Charge(ctx, ChargeRequest{TransactionID: txn, Identity: identity, Plan: plan}); err != nil {
		if !errors.Is(err, domain.ErrPaymentsDisabled) && !errors.Is(err, domain.ErrPaymentDeclined) {
			err = fmt.Errorf("%w: %v", domain.ErrPaymentDeclined, err)
		}
		details["error"] = err.Error()
		s.audit(ctx, identity, false, details)
		s.Logger.Warn("purchase failed", "identity", identity, "plan", plan.Name, "error", err)
		return PurchaseResult{}, err
	}

	until := clockOrSystem(s.Clock).Now().Add(plan.Duration)
	if err := sess.UpgradeRole(ctx, string(domain.RolePremium), WithExpiry(until)); err != nil {
		// Charged but not upgraded; the audit entry carries the transaction
		// so it can be reconciled.
		details["error"] = err.Error()
		s.audit(ctx, identity, false, details)
		return PurchaseResult{}, err
	}

	details["until"] = until.UTC().Format(time.RFC3339)
	s.audit(ctx, identity, true, details)
	s.Logger.Info("purchase completed", "identity", identity, "plan", plan.Name, "transaction", txn)

	return PurchaseResult{TransactionID: txn, Plan: plan, PremiumUntil: until.UTC()}, nil
}

func (s *PurchaseService) audit(ctx context.Context, identity string, ok bool, details map[string]string) {
	if s.Auditor == nil {
		return
	}
	s.Auditor.Append(ctx, domain.AuditEntry{
		Actor:   identity,
		Action:  domain.ActionPurchase,
		Target:  identity,
		Success: ok,
		Details: details,
	})
}
