package seed

import (
	"context"
	"testing"

	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/quota/quotatest"
)

func TestEnsureCatalogIsIdempotent(t *testing.T) {
	db := quotatest.OpenDB(t)
	node := quotatest.MustNode(t)
	ctx := context.Background()

	if err := EnsureCatalog(ctx, db, node); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Exec(`UPDATE feature_costs SET cost_credits = 99 WHERE feature_key = ?`, "api.job_match").Error; err != nil {
		t.Fatalf("tune price: %v", err)
	}
	if err := EnsureCatalog(ctx, db, node); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	var plans, costs int64
	if err := db.Model(&quotadomain.Plan{}).Count(&plans).Error; err != nil {
		t.Fatalf("count plans: %v", err)
	}
	if err := db.Model(&quotadomain.FeatureCost{}).Count(&costs).Error; err != nil {
		t.Fatalf("count costs: %v", err)
	}
	if plans != int64(len(catalogPlans)) {
		t.Fatalf("expected %d plans, got %d", len(catalogPlans), plans)
	}
	if costs != int64(2*len(catalogFeatures)) {
		t.Fatalf("expected %d feature costs, got %d", 2*len(catalogFeatures), costs)
	}

	var tuned quotadomain.FeatureCost
	if err := db.Where("product = ? AND feature_key = ?", quotadomain.TenantWorkspace, "api.job_match").First(&tuned).Error; err != nil {
		t.Fatalf("load cost: %v", err)
	}
	if tuned.CostCredits != 99 {
		t.Fatalf("expected reseed to keep tuned price, got %d", tuned.CostCredits)
	}
}

func TestCatalogPlansMatchTheirProduct(t *testing.T) {
	db := quotatest.OpenDB(t)
	if err := EnsureCatalog(context.Background(), db, quotatest.MustNode(t)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var pro quotadomain.Plan
	if err := db.Where("code = ?", "api_professional").First(&pro).Error; err != nil {
		t.Fatalf("load plan: %v", err)
	}
	if pro.Product != quotadomain.TenantWorkspace || pro.RateLimitPerDay != nil {
		t.Fatalf("unexpected professional plan %+v", pro)
	}
	if got := pro.BillableCost(5); got != 4 {
		t.Fatalf("expected 5 credits at 0.8 to bill 4, got %d", got)
	}
}
