package withdrawal

import (
	"math"

	"github.com/sudo-init-do/founderledger/internal/ledger"
)

// SplitTolerance is how far the personal share of a both withdrawal may
// drift from 0.4 to absorb integer rounding.
const SplitTolerance = 0.01

// Project is a reinvestment target. MinAmount is advisory and not enforced.
type Project struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	MinAmount   int64  `json:"min_amount" yaml:"minAmount"`
	Impact      string `json:"impact" yaml:"impact"`
}

// DefaultProjects is the built-in reinvestment catalog.
var DefaultProjects = []Project{
	{ID: "azora-expansion", Name: "Azora Global Expansion", Description: "Fund expansion to new countries and markets", MinAmount: 10000, Impact: "high"},
	{ID: "ai-development", Name: "AI Development", Description: "Advance Azora's AI capabilities and infrastructure", MinAmount: 5000, Impact: "high"},
	{ID: "education", Name: "Education Initiatives", Description: "Support educational programs and scholarships", MinAmount: 2000, Impact: "medium"},
	{ID: "startup-fund", Name: "Startup Incubator", Description: "Fund early-stage startups in the ecosystem", MinAmount: 5000, Impact: "medium"},
	{ID: "infrastructure", Name: "Infrastructure", Description: "Improve network infrastructure and security", MinAmount: 8000, Impact: "high"},
}

// SplitAmount divides total tokens 40/60, flooring the personal share.
func SplitAmount(total int64) (personal, reinvestment int64) {
	personal = total * 4 / 10
	return personal, total - personal
}

// WithinSplitTolerance reports whether personal/(personal+reinvestment) is
// within SplitTolerance of 0.4.
func WithinSplitTolerance(personal, reinvestment int64) bool {
	total := personal + reinvestment
	if total <= 0 {
		return false
	}
	ratio := float64(personal) / float64(total)
	// epsilon keeps an exact 1% drift inside the band
	return math.Abs(ratio-0.4) <= SplitTolerance+1e-9
}

// DivideAmongProjects gives each project floor(amount/n) and the remainder
// to the first project.
func DivideAmongProjects(amount int64, projects []string) []ProjectAllocation {
	if len(projects) == 0 {
		return nil
	}
	n := int64(len(projects))
	share := amount / n
	out := make([]ProjectAllocation, len(projects))
	for i, p := range projects {
		out[i] = ProjectAllocation{ProjectID: p, Amount: share}
	}
	out[0].Amount += amount - share*n
	return out
}

// PolicyException is a per-founder override applied before any external
// call.
type PolicyException struct {
	FounderID        string `json:"founder_id" yaml:"founderId"`
	MaxAmount        int64  `json:"max_amount" yaml:"maxAmount"`
	RequiresApproval bool   `json:"requires_approval" yaml:"requiresApproval"`
}

func (p PolicyException) check(founderID string, total int64, approvedBy string) error {
	if p.MaxAmount > 0 && total > p.MaxAmount {
		return ledger.NewError(ledger.ErrValidation, founderID,
			"request of %d tokens exceeds the policy cap of %d", total, p.MaxAmount).
			With("policy", "max_amount").
			With("max_amount", p.MaxAmount)
	}
	if p.RequiresApproval && approvedBy == "" {
		return ledger.NewError(ledger.ErrValidation, founderID, "withdrawal requires approval").
			With("policy", "requires_approval")
	}
	return nil
}
