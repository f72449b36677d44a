package plan

import (
	"context"

	"github.com/xraph/creditledger/id"
)

// Store is the per-aggregate storage contract for the plan catalog.
type Store interface {
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetBySlug(ctx context.Context, slug string) (*Plan, error)
	List(ctx context.Context, opts ListOpts) ([]*Plan, error)
	Update(ctx context.Context, p *Plan) error
	Archive(ctx context.Context, planID id.PlanID) error
}
