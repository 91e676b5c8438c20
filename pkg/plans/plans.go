// Package plans holds the investment plan table and the only constructor
// that can produce a new Investment.
package plans

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultHorizon is how long a new investment runs before maturity.
const DefaultHorizon = 7 * 24 * time.Hour

// Plan is one tier of the table. A zero Max with Unbounded set means no upper limit.
type Plan struct {
	Name         models.PlanName `json:"name"`
	Min          decimal.Decimal `json:"min"`
	Max          decimal.Decimal `json:"max"`
	Unbounded    bool            `json:"unbounded"`
	DailyPercent decimal.Decimal `json:"daily_percent"`
}

// Allows reports whether amount is within the plan's bounds.
func (p Plan) Allows(amount decimal.Decimal) bool {
	if amount.LessThan(p.Min) {
		return false
	}
	return p.Unbounded || amount.LessThanOrEqual(p.Max)
}

func (p Plan) boundsString() string {
	if p.Unbounded {
		return fmt.Sprintf("at least $%s", p.Min.String())
	}
	return fmt.Sprintf("between $%s and $%s", p.Min.String(), p.Max.String())
}

// Policy is a read-only plan table.
type Policy struct {
	plans   map[models.PlanName]Plan
	horizon time.Duration
}

// DefaultPolicy returns the standard starter/premium/golden/vip table.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultHorizon,
		Plan{Name: models.PlanStarter, Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(999), DailyPercent: decimal.RequireFromString("1.5")},
		Plan{Name: models.PlanPremium, Min: decimal.NewFromInt(1000), Max: decimal.NewFromInt(4999), DailyPercent: decimal.NewFromInt(2)},
		Plan{Name: models.PlanGolden, Min: decimal.NewFromInt(5000), Max: decimal.NewFromInt(10000), DailyPercent: decimal.RequireFromString("2.5")},
		Plan{Name: models.PlanVIP, Min: decimal.NewFromInt(10001), Unbounded: true, DailyPercent: decimal.NewFromInt(5)},
	)
}

// NewPolicy builds a table from the given plans. A non-positive horizon falls back to DefaultHorizon.
func NewPolicy(horizon time.Duration, plans ...Plan) *Policy {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	p := &Policy{plans: make(map[models.PlanName]Plan, len(plans)), horizon: horizon}
	for _, plan := range plans {
		plan.Name = models.PlanName(strings.ToLower(string(plan.Name)))
		p.plans[plan.Name] = plan
	}
	return p
}

// Horizon returns the maturity horizon applied to new investments.
func (p *Policy) Horizon() time.Duration {
	return p.horizon
}

// Lookup finds a plan by name, ignoring case.
func (p *Policy) Lookup(name string) (Plan, bool) {
	plan, ok := p.plans[models.PlanName(strings.ToLower(strings.TrimSpace(name)))]
	return plan, ok
}

// Plans returns the table ordered by minimum amount.
func (p *Policy) Plans() []Plan {
	out := make([]Plan, 0, len(p.plans))
	for _, plan := range p.plans {
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Min.LessThan(out[j].Min) })
	return out
}

// Validate checks that name is a known plan and amount is within its bounds.
func (p *Policy) Validate(name string, amount decimal.Decimal) (Plan, error) {
	plan, ok := p.Lookup(name)
	if !ok {
		return Plan{}, &models.ValidationError{Field: "plan", Reason: fmt.Sprintf("unknown investment plan %q", name)}
	}
	if !amount.IsPositive() {
		return Plan{}, &models.ValidationError{Field: "amount", Reason: "amount must be positive"}
	}
	if !plan.DailyPercent.IsPositive() {
		return Plan{}, &models.ValidationError{Field: "plan", Reason: fmt.Sprintf("plan %s has a non-positive daily percent", plan.Name)}
	}
	if !plan.Allows(amount) {
		return Plan{}, &models.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("the amount must be %s for the %s plan", plan.boundsString(), plan.Name),
		}
	}
	return plan, nil
}

// Open validates the request and returns a running investment starting at start.
// It is the only way the ledger creates investments, so an out-of-policy
// investment never exists.
func (p *Policy) Open(userID, planName string, amount decimal.Decimal, start time.Time) (*models.Investment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &models.ValidationError{Field: "user_id", Reason: "user id is required"}
	}
	plan, err := p.Validate(planName, amount)
	if err != nil {
		return nil, err
	}
	start = start.UTC()
	return &models.Investment{
		ID:           uuid.New(),
		UserID:       userID,
		Plan:         plan.Name,
		Principal:    amount,
		DailyPercent: plan.DailyPercent,
		PayoutAmount: amount,
		Status:       models.InvestmentStatusRunning,
		StartDate:    start,
		EndDate:      start.Add(p.horizon),
		CreatedAt:    start,
		UpdatedAt:    start,
	}, nil
}
