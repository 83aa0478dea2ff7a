package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type planSeed struct {
	code       string
	product    quotadomain.TenantType
	name       string
	allocation int64
	perMinute  *int64
	perDay     *int64
	multiplier string
}

type costSeed struct {
	product    quotadomain.TenantType
	featureKey string
	credits    int64
}

var catalogPlans = []planSeed{
	{code: "api_free", product: quotadomain.TenantWorkspace, name: "Free", allocation: 1000, perMinute: limit(20), perDay: limit(500), multiplier: "1"},
	{code: "api_basic", product: quotadomain.TenantWorkspace, name: "Basic", allocation: 10000, perMinute: limit(60), perDay: limit(5000), multiplier: "1"},
	{code: "api_professional", product: quotadomain.TenantWorkspace, name: "Professional", allocation: 50000, perMinute: limit(200), multiplier: "0.8"},
	{code: "career_free", product: quotadomain.TenantUser, name: "Free", allocation: 100, perMinute: limit(10), perDay: limit(50), multiplier: "1"},
	{code: "career_plus", product: quotadomain.TenantUser, name: "Plus Plan", allocation: 1000, perMinute: limit(20), multiplier: "1"},
	{code: "career_pro", product: quotadomain.TenantUser, name: "Pro Plan", allocation: 5000, perMinute: limit(60), multiplier: "0.9"},
}

var catalogFeatures = []struct {
	key     string
	credits int64
}{
	{key: "extract_keywords", credits: 1},
	{key: "extract_cues.resume", credits: 2},
	{key: "extract_cues.interview", credits: 2},
	{key: "extract_cues.feedback", credits: 2},
	{key: "extract_cues.assessment", credits: 2},
	{key: "feedback_analyzer", credits: 3},
	{key: "generate_feedback", credits: 3},
	{key: "reframe_feedback", credits: 2},
	{key: "job_match", credits: 5},
	{key: "career_path", credits: 10},
}

// EnsureCatalog inserts the default plans and feature costs. Existing rows
// keep their values, so operators can tune prices without the seed reverting them.
func EnsureCatalog(ctx context.Context, db *gorm.DB, node *snowflake.Node) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}

	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plans := make([]quotadomain.Plan, 0, len(catalogPlans))
		for _, p := range catalogPlans {
			plans = append(plans, quotadomain.Plan{
				ID:                 node.Generate(),
				Code:               p.code,
				Product:            p.product,
				Name:               p.name,
				CreditsAllocation:  p.allocation,
				RateLimitPerMinute: p.perMinute,
				RateLimitPerDay:    p.perDay,
				Multiplier:         decimal.RequireFromString(p.multiplier),
				CreatedAt:          now,
			})
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(&plans).Error; err != nil {
			return err
		}

		costs := make([]quotadomain.FeatureCost, 0, 2*len(catalogFeatures))
		for _, c := range costSeeds() {
			costs = append(costs, quotadomain.FeatureCost{
				ID:          node.Generate(),
				Product:     c.product,
				FeatureKey:  c.featureKey,
				CostCredits: c.credits,
				CreatedAt:   now,
			})
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product"}, {Name: "feature_key"}},
			DoNothing: true,
		}).Create(&costs).Error
	})
}

// costSeeds prices every feature for both products under its product prefix.
func costSeeds() []costSeed {
	out := make([]costSeed, 0, 2*len(catalogFeatures))
	for _, f := range catalogFeatures {
		out = append(out,
			costSeed{product: quotadomain.TenantWorkspace, featureKey: "api." + f.key, credits: f.credits},
			costSeed{product: quotadomain.TenantUser, featureKey: "career." + f.key, credits: f.credits},
		)
	}
	return out
}

func limit(v int64) *int64 {
	return &v
}
