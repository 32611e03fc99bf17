// Package scorer computes the deterministic ICP fit score and tier for a
// lead. Pure functions over lead attributes and configured weights; no I/O,
// no provider calls, identical output for identical input.
package scorer

import (
	"strings"
	"time"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

// Breakdown component keys. Stable names; persisted with the lead.
const (
	ComponentIndustry      = "industry"
	ComponentRevenue       = "revenue"
	ComponentTechStack     = "tech_stack"
	ComponentEmployees     = "employee_count"
	ComponentGeography     = "geography"
	ComponentTitle         = "title"
	ComponentRecentFunding = "recent_funding"
	ComponentHiring        = "is_hiring"
	ComponentOpenPositions = "open_positions"
)

const recentFundingWindow = 180 * 24 * time.Hour

// Scorer holds the configured weights, profile and tier thresholds.
type Scorer struct {
	weights config.ScoringConfig
	icp     config.ICPConfig
	tiers   config.TierConfig
	now     func() time.Time
}

// New creates a Scorer from configuration.
func New(weights config.ScoringConfig, icp config.ICPConfig, tiers config.TierConfig) *Scorer {
	return &Scorer{weights: weights, icp: icp, tiers: tiers, now: time.Now}
}

// WithNow overrides the clock used for the recent-funding window. For tests.
func (s *Scorer) WithNow(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Result carries the computed score, per-component breakdown and tier.
type Result struct {
	Score     float64
	Breakdown map[string]float64
	Tier      model.Tier
	// Disqualified marks leads missing the critical attributes scoring
	// depends on. They exit the pipeline instead of receiving a low score.
	Disqualified bool
}

// Score evaluates the lead. Missing optional attributes score zero for their
// component; a lead with neither industry nor employee count is unqualified.
func (s *Scorer) Score(lead *model.Lead) Result {
	if lead.Company.Industry == "" && lead.Company.EmployeeCount == nil {
		return Result{Tier: model.TierUnqualified, Disqualified: true, Breakdown: map[string]float64{}}
	}

	breakdown := map[string]float64{
		ComponentIndustry:  s.industryScore(lead.Company),
		ComponentRevenue:   s.revenueScore(lead.Company),
		ComponentTechStack: s.techStackScore(lead.Company),
		ComponentEmployees: s.employeeScore(lead.Company),
		ComponentGeography: s.geographyScore(lead.Company),
		ComponentTitle:     s.titleScore(lead.Contact),
	}
	s.intentBonuses(lead.Company, breakdown)

	var total float64
	for _, v := range breakdown {
		total += v
	}
	if max := s.weights.MaxScore; max > 0 && total > max {
		total = max
	}

	return Result{
		Score:     total,
		Breakdown: breakdown,
		Tier:      s.tier(total),
	}
}

func (s *Scorer) tier(score float64) model.Tier {
	switch {
	case score >= s.tiers.HighTouchMin:
		return model.TierHighTouch
	case score >= s.tiers.StandardMin:
		return model.TierStandard
	default:
		return model.TierNurture
	}
}

func (s *Scorer) industryScore(c model.CompanyAttrs) float64 {
	if c.Industry == "" {
		return 0
	}
	industry := strings.ToLower(c.Industry)
	max := s.weights.IndustryMatch
	for _, target := range s.icp.TargetIndustries {
		t := strings.ToLower(target)
		if strings.Contains(industry, t) || strings.Contains(t, industry) {
			return max
		}
	}
	for _, excluded := range s.icp.ExcludedIndustries {
		if strings.Contains(industry, strings.ToLower(excluded)) {
			return 0
		}
	}
	return max / 2
}

func (s *Scorer) revenueScore(c model.CompanyAttrs) float64 {
	if c.Revenue == nil || *c.Revenue == 0 {
		return 0
	}
	rev := *c.Revenue
	max := s.weights.RevenueFit
	if rev >= s.icp.MinRevenue && rev <= s.icp.MaxRevenue {
		return max
	}
	if rev >= s.icp.MinRevenue/2 && rev <= s.icp.MaxRevenue*2 {
		return max / 2
	}
	return 0
}

func (s *Scorer) techStackScore(c model.CompanyAttrs) float64 {
	if len(c.TechStack) == 0 {
		return 0
	}
	stack := make([]string, len(c.TechStack))
	for i, t := range c.TechStack {
		stack[i] = strings.ToLower(t)
	}
	matches := 0
	for _, target := range s.icp.TargetTechnologies {
		t := strings.ToLower(target)
		for _, have := range stack {
			if strings.Contains(have, t) {
				matches++
				break
			}
		}
	}
	max := s.weights.TechStackMatch
	switch {
	case matches >= 3:
		return max
	case matches == 2:
		return max * 0.75
	case matches == 1:
		return max / 2
	default:
		return 0
	}
}

func (s *Scorer) employeeScore(c model.CompanyAttrs) float64 {
	if c.EmployeeCount == nil || *c.EmployeeCount == 0 {
		return 0
	}
	n := *c.EmployeeCount
	max := s.weights.EmployeeFit
	if n >= s.icp.MinEmployees && n <= s.icp.MaxEmployees {
		return max
	}
	if n >= s.icp.MinEmployees/2 && n <= s.icp.MaxEmployees*2 {
		return max / 2
	}
	return 0
}

func (s *Scorer) geographyScore(c model.CompanyAttrs) float64 {
	max := s.weights.GeographyMatch
	if c.HQCountry != "" {
		for _, target := range s.icp.TargetCountries {
			if strings.EqualFold(c.HQCountry, target) {
				return max
			}
		}
	}
	if c.HQRegion != "" {
		region := strings.ToLower(c.HQRegion)
		for _, target := range s.icp.TargetRegions {
			t := strings.ToLower(target)
			if strings.Contains(region, t) || strings.Contains(t, region) {
				return max * 0.75
			}
		}
	}
	return 0
}

var seniorLevels = map[string]bool{
	"c_level":  true,
	"vp":       true,
	"director": true,
	"head":     true,
}

func (s *Scorer) titleScore(c model.ContactAttrs) float64 {
	if c.Title == "" {
		return 0
	}
	title := strings.ToLower(c.Title)
	max := s.weights.TitleMatch
	for _, target := range s.icp.TargetTitles {
		if strings.Contains(title, strings.ToLower(target)) {
			return max
		}
	}
	if c.Department != "" {
		dept := strings.ToLower(c.Department)
		for _, target := range s.icp.TargetDepartments {
			if strings.Contains(dept, strings.ToLower(target)) {
				return max * 0.75
			}
		}
	}
	if seniorLevels[strings.ToLower(c.Seniority)] {
		return max / 2
	}
	return 0
}

// intentBonuses adds buying-signal bonuses directly into the breakdown.
// Absent signals add no key; the breakdown only lists earned bonuses.
func (s *Scorer) intentBonuses(c model.CompanyAttrs, breakdown map[string]float64) {
	if c.LastFundingDate != nil && s.now().Sub(*c.LastFundingDate) < recentFundingWindow {
		breakdown[ComponentRecentFunding] = s.weights.RecentFundingBonus
	}
	if c.IsHiring {
		breakdown[ComponentHiring] = s.weights.HiringBonus
	}
	if c.OpenPositions != nil && *c.OpenPositions >= 5 {
		breakdown[ComponentOpenPositions] = s.weights.OpenPositionsBonus
	}
}
