package creditledger

import (
	"context"
	"log/slog"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/plan"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/types"
)

// Ledger is the credit ledger and subscription reconciliation engine.
type Ledger struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	provider ProviderClient
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithProvider sets the billing provider client used for remote
// cancellations. Without one, provider-side cancels are skipped and
// reported as failures in reconciliation results.
func WithProvider(pc ProviderClient) Option {
	return func(l *Ledger) {
		l.provider = pc
	}
}

// Start migrates the store and initializes plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("credit ledger started",
		"plugins", l.plugins.Count(),
	)

	return nil
}

// Stop shuts down the Ledger.
func (l *Ledger) Stop() error {
	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// ──────────────────────────────────────────────────
// Plan Management
// ──────────────────────────────────────────────────

// CreatePlan creates a new billing plan.
func (l *Ledger) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if p.Slug == "" {
		return ErrInvalidInput
	}
	if p.ID == (id.PlanID{}) {
		p.ID = id.NewPlanID()
	}
	if p.Status == "" {
		p.Status = plan.StatusActive
	}
	p.Entity = types.NewEntity()

	if err := l.store.CreatePlan(ctx, p); err != nil {
		return err
	}

	l.plugins.EmitPlanCreated(ctx, p)
	return nil
}

// GetPlan retrieves a plan by ID.
func (l *Ledger) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return l.store.GetPlan(ctx, planID)
}

// GetPlanBySlug retrieves a plan by slug.
func (l *Ledger) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return l.store.GetPlanBySlug(ctx, slug)
}

// ListPlans lists plans in the catalog.
func (l *Ledger) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return l.store.ListPlans(ctx, opts)
}

// UpdatePlan updates a plan's display fields and credit grants. Existing
// subscriptions pick the new grant up on their next renewal.
func (l *Ledger) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	if err := l.store.UpdatePlan(ctx, p); err != nil {
		return err
	}

	l.plugins.EmitPlanUpdated(ctx, p)
	return nil
}

// ArchivePlan retires a plan from the catalog. Archived plans still resolve
// for grant lookups so in-flight subscriptions keep renewing.
func (l *Ledger) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	if err := l.store.ArchivePlan(ctx, planID); err != nil {
		return err
	}

	l.plugins.EmitPlanArchived(ctx, planID.String())
	return nil
}
