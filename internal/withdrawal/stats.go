package withdrawal

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/founderledger/internal/ledger"
	"github.com/sudo-init-do/founderledger/internal/rails"
)

// FounderSummary is one founder's line in Stats.
type FounderSummary struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Role             string            `json:"role"`
	Allocation       ledger.Allocation `json:"allocation"`
	Withdrawn        ledger.Withdrawn  `json:"withdrawn"`
	Remaining        ledger.Remaining  `json:"remaining"`
	PercentWithdrawn decimal.Decimal   `json:"percent_withdrawn"`
	Settled          bool              `json:"settled"`
}

// Stats aggregates the ledger for reporting.
type Stats struct {
	Totals                  ledger.Totals    `json:"totals"`
	FounderPercentWithdrawn decimal.Decimal  `json:"founder_percent_withdrawn"`
	UserPercentWithdrawn    decimal.Decimal  `json:"user_percent_withdrawn"`
	CirculatingPercent      decimal.Decimal  `json:"circulating_percent"`
	FoundersSettled         bool             `json:"founders_settled"`
	UserWithdrawalsEnabled  bool             `json:"user_withdrawals_enabled"`
	TokenValueUSD           decimal.Decimal  `json:"token_value_usd"`
	Founders                []FounderSummary `json:"founders"`
}

// Stats reports totals and withdrawal percentages.
func (c *Coordinator) Stats() Stats {
	totals := c.ledger.Totals()
	founders := c.ledger.Founders()
	settled := c.ledger.FoundersSettled()

	s := Stats{
		Totals:                  totals,
		FounderPercentWithdrawn: percent(totals.Withdrawn.Founders, totals.Allocated.Founders),
		UserPercentWithdrawn:    percent(totals.Withdrawn.Users, totals.Allocated.Users),
		CirculatingPercent:      percent(totals.Circulating, totals.TotalSupply),
		FoundersSettled:         settled,
		UserWithdrawalsEnabled:  settled,
		TokenValueUSD:           c.tokenValueUSD,
		Founders:                make([]FounderSummary, 0, len(founders)),
	}
	for _, f := range founders {
		s.Founders = append(s.Founders, FounderSummary{
			ID:               f.ID,
			Name:             f.Name,
			Role:             f.Role,
			Allocation:       f.Allocation,
			Withdrawn:        f.Withdrawn,
			Remaining:        f.Remaining(),
			PercentWithdrawn: percent(f.Withdrawn.Personal+f.Withdrawn.Reinvestment, f.Allocation.Total),
			Settled:          f.Settled(),
		})
	}
	return s
}

// FounderCompliance is one founder's line in the constitution report.
type FounderCompliance struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	PersonalRatio  decimal.Decimal `json:"personal_ratio"`
	RatioCompliant bool            `json:"ratio_compliant"`
	WithinLimits   bool            `json:"within_limits"`
}

// ConstitutionReport checks the constitutional rules against the ledger.
type ConstitutionReport struct {
	Compliant          bool                `json:"compliant"`
	SupplyCompliant    bool                `json:"supply_compliant"`
	FounderPoolPercent decimal.Decimal     `json:"founder_pool_percent"`
	Founders           []FounderCompliance `json:"founders"`
}

// ConstitutionReport verifies, per founder, that withdrawals so far respect
// the 40/60 ratio within SplitTolerance and stay within the allocation.
func (c *Coordinator) ConstitutionReport() ConstitutionReport {
	totals := c.ledger.Totals()
	r := ConstitutionReport{
		SupplyCompliant:    totals.Registered.Founders <= totals.Allocated.Founders && totals.Circulating <= totals.TotalSupply,
		FounderPoolPercent: percent(totals.Allocated.Founders, totals.TotalSupply),
	}
	r.Compliant = r.SupplyCompliant
	for _, f := range c.ledger.Founders() {
		fc := FounderCompliance{
			ID:             f.ID,
			Name:           f.Name,
			RatioCompliant: true,
			WithinLimits: f.Withdrawn.Personal <= f.Allocation.Personal &&
				f.Withdrawn.Reinvestment <= f.Allocation.Reinvestment,
		}
		if total := f.Withdrawn.Personal + f.Withdrawn.Reinvestment; total > 0 {
			fc.PersonalRatio = decimal.NewFromInt(f.Withdrawn.Personal).Div(decimal.NewFromInt(total)).Round(4)
			// a founder may draw one leg before the other; only the completed
			// picture is held to the ratio
			if f.Settled() {
				fc.RatioCompliant = WithinSplitTolerance(f.Withdrawn.Personal, f.Withdrawn.Reinvestment)
			}
		}
		r.Compliant = r.Compliant && fc.RatioCompliant && fc.WithinLimits
		r.Founders = append(r.Founders, fc)
	}
	return r
}

// FounderValue prices a founder's remaining allocation at the current rate.
type FounderValue struct {
	Founder   ledger.Founder   `json:"founder"`
	Remaining ledger.Remaining `json:"remaining"`
	Personal  rails.FiatValue  `json:"personal_value"`
	Total     rails.FiatValue  `json:"total_value"`
}

// FounderValue returns the founder with the remaining allocation priced at
// the cached USD/ZAR rate.
func (c *Coordinator) FounderValue(ctx context.Context, id string) (FounderValue, error) {
	f, err := c.ledger.Founder(id)
	if err != nil {
		return FounderValue{}, err
	}
	q, err := c.rates.Rate(ctx, rails.PairUSDZAR)
	if err != nil {
		return FounderValue{}, ledger.NewError(ledger.ErrExchangeRate, id, "no USD/ZAR rate available").Wrap(err)
	}
	rem := f.Remaining()
	return FounderValue{
		Founder:   f,
		Remaining: rem,
		Personal:  rails.Convert(rem.Personal, c.tokenValueUSD, q),
		Total:     rails.Convert(rem.Total(), c.tokenValueUSD, q),
	}, nil
}

func percent(part, whole int64) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(whole)).Round(2)
}

// Withdrawals returns the founder's personal withdrawal history.
func (c *Coordinator) Withdrawals(ctx context.Context, founderID string) ([]Withdrawal, error) {
	if _, err := c.ledger.Founder(founderID); err != nil {
		return nil, err
	}
	return c.store.Withdrawals(ctx, founderID)
}

// Reinvestments returns the founder's reinvestment history.
func (c *Coordinator) Reinvestments(ctx context.Context, founderID string) ([]Reinvestment, error) {
	if _, err := c.ledger.Founder(founderID); err != nil {
		return nil, err
	}
	return c.store.Reinvestments(ctx, founderID)
}

// ProjectFunding is what one catalog project has received from completed
// reinvestments.
type ProjectFunding struct {
	Project             Project         `json:"project"`
	FundingReceived     int64           `json:"funding_received"`
	Reinvestments       int             `json:"reinvestments"`
	PercentOfReinvested decimal.Decimal `json:"percent_of_reinvested"`
}

// ReinvestmentStats aggregates the reinvestment legs across founders.
type ReinvestmentStats struct {
	TotalReinvested        int64            `json:"total_reinvested"`
	ReinvestmentAllocation int64            `json:"reinvestment_allocation"`
	ReinvestmentPercentage decimal.Decimal  `json:"reinvestment_percentage"`
	Projects               []ProjectFunding `json:"projects"`
}

// ProjectDetail is a project with the reinvestments that funded it.
type ProjectDetail struct {
	ProjectFunding
	Reinvestments []Reinvestment `json:"reinvestment_records"`
}

// completedReinvestments returns every founder's completed reinvestments.
func (c *Coordinator) completedReinvestments(ctx context.Context) ([]Reinvestment, error) {
	var out []Reinvestment
	for _, f := range c.ledger.Founders() {
		rs, err := c.store.Reinvestments(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range rs {
			if r.Status == StatusCompleted {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func fund(pf *ProjectFunding, r Reinvestment) bool {
	hit := false
	for _, pa := range r.Projects {
		if pa.ProjectID == pf.Project.ID {
			pf.FundingReceived += pa.Amount
			hit = true
		}
	}
	if hit {
		pf.Reinvestments++
	}
	return hit
}

// ReinvestmentStats reports how much of the founders' reinvestment
// allocation has been drawn and how it was spread over the projects.
func (c *Coordinator) ReinvestmentStats(ctx context.Context) (ReinvestmentStats, error) {
	var s ReinvestmentStats
	for _, f := range c.ledger.Founders() {
		s.TotalReinvested += f.Withdrawn.Reinvestment
		s.ReinvestmentAllocation += f.Allocation.Reinvestment
	}
	s.ReinvestmentPercentage = percent(s.TotalReinvested, s.ReinvestmentAllocation)

	rs, err := c.completedReinvestments(ctx)
	if err != nil {
		return ReinvestmentStats{}, err
	}
	s.Projects = make([]ProjectFunding, 0, len(c.projects))
	for _, p := range c.projects {
		pf := ProjectFunding{Project: p}
		for _, r := range rs {
			fund(&pf, r)
		}
		pf.PercentOfReinvested = percent(pf.FundingReceived, s.TotalReinvested)
		s.Projects = append(s.Projects, pf)
	}
	return s, nil
}

// ProjectDetail returns one catalog project with its funding history.
func (c *Coordinator) ProjectDetail(ctx context.Context, id string) (ProjectDetail, error) {
	p, ok := c.projectIdx[id]
	if !ok {
		return ProjectDetail{}, ledger.NewError(ledger.ErrNotFound, "", "unknown project %s", id).With("project_id", id)
	}
	rs, err := c.completedReinvestments(ctx)
	if err != nil {
		return ProjectDetail{}, err
	}
	d := ProjectDetail{ProjectFunding: ProjectFunding{Project: p}, Reinvestments: []Reinvestment{}}
	for _, r := range rs {
		if fund(&d.ProjectFunding, r) {
			d.Reinvestments = append(d.Reinvestments, r)
		}
	}
	var total int64
	for _, f := range c.ledger.Founders() {
		total += f.Withdrawn.Reinvestment
	}
	d.PercentOfReinvested = percent(d.FundingReceived, total)
	return d, nil
}
