package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/budget"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/anthropic"
)

const researchSystemPrompt = `You are a B2B sales research assistant. Given firmographic and contact data for a prospect, write a concise research summary: what the company does, why it might buy, and the most relevant angle for outreach. Two to four sentences, plain text, no preamble.`

const messagingSystemPrompt = `You are a B2B outbound copywriter. Given a research summary and prospect data, write three short cold-email bodies tuned to different touch levels. Respond ONLY with a JSON object of the form {"high_touch": "...", "standard": "...", "nurture": "..."}. Each body is plain text under 120 words, personalized, no subject lines, no signatures.`

// research generates the lead's research summary. AI spend goes through the
// same budget ledger as provider spend.
func (r *Runner) research(ctx context.Context, lead *model.Lead) (result, error) {
	if lead.ResearchSummary != "" {
		return result{outcome: model.OutcomeSuccess}, nil
	}
	text, cost, res, err := r.aiCall(ctx, lead, researchSystemPrompt, researchUserPrompt(lead))
	if err != nil || res.outcome != "" {
		res.costUSD = cost
		return res, err
	}
	lead.ResearchSummary = strings.TrimSpace(text)
	if lead.ResearchSummary == "" {
		return result{outcome: model.OutcomeError, costUSD: cost}, eris.New("stage: empty research summary")
	}
	return result{outcome: model.OutcomeSuccess, costUSD: cost}, nil
}

// message generates per-tier email variants from the research summary.
func (r *Runner) message(ctx context.Context, lead *model.Lead) (result, error) {
	if len(lead.EmailVariants) > 0 {
		return result{outcome: model.OutcomeSuccess}, nil
	}
	text, cost, res, err := r.aiCall(ctx, lead, messagingSystemPrompt, messagingUserPrompt(lead))
	if err != nil || res.outcome != "" {
		res.costUSD = cost
		return res, err
	}

	variants := map[string]string{}
	if err := json.Unmarshal([]byte(extractJSON(text)), &variants); err != nil {
		return result{outcome: model.OutcomeError, costUSD: cost},
			eris.Wrap(err, "stage: parse email variants")
	}
	for _, key := range []string{string(model.TierHighTouch), string(model.TierStandard), string(model.TierNurture)} {
		if variants[key] == "" {
			return result{outcome: model.OutcomeError, costUSD: cost},
				eris.Errorf("stage: missing email variant %q", key)
		}
	}
	lead.EmailVariants = variants
	return result{outcome: model.OutcomeSuccess, costUSD: cost}, nil
}

// aiCall runs one budget-reserved, rate-limited model request. A non-empty
// outcome in the returned result means the call was denied before reaching
// the model.
func (r *Runner) aiCall(ctx context.Context, lead *model.Lead, system, user string) (text string, cost float64, res result, err error) {
	if r.ai == nil {
		return "", 0, result{outcome: model.OutcomeError}, eris.New("stage: anthropic client not configured")
	}

	reservation, err := r.ledger.Reserve("anthropic", r.aiCfg.CostPerRequest)
	if err != nil {
		if budget.IsExhausted(err) {
			return "", 0, result{outcome: model.OutcomeError}, err
		}
		return "", 0, result{outcome: model.OutcomeError}, eris.Wrap(err, "stage: reserve AI budget")
	}

	if d := r.limiter.Acquire("anthropic"); !d.Allowed {
		r.ledger.Release(reservation)
		return "", 0, result{outcome: model.OutcomeError}, eris.Errorf("stage: anthropic rate limited until %s", d.RetryAt.Format("15:04:05"))
	}

	resp, err := r.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.aiCfg.Model,
		MaxTokens: int64(r.aiCfg.MaxTokens),
		System:    anthropic.BuildCachedSystemBlocks(system),
		Messages:  []anthropic.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		r.ledger.Release(reservation)
		return "", 0, result{outcome: model.OutcomeError}, eris.Wrap(err, "stage: model request")
	}

	actual := resp.Usage.EstimateCost(r.aiCfg.Model)
	if actual == 0 {
		actual = r.aiCfg.CostPerRequest
	}
	if cerr := r.ledger.Commit(ctx, reservation, actual, lead.ID); cerr != nil {
		return "", actual, result{outcome: model.OutcomeError}, cerr
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), actual, result{}, nil
}

func researchUserPrompt(lead *model.Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s (%s)\n", lead.Company.Name, lead.Domain)
	if lead.Company.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", lead.Company.Industry)
	}
	if lead.Company.EmployeeCount != nil {
		fmt.Fprintf(&b, "Employees: %d\n", *lead.Company.EmployeeCount)
	}
	if len(lead.Company.TechStack) > 0 {
		fmt.Fprintf(&b, "Tech stack: %s\n", strings.Join(lead.Company.TechStack, ", "))
	}
	if lead.Company.IsHiring {
		b.WriteString("Signal: actively hiring\n")
	}
	if lead.Company.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", lead.Company.Description)
	}
	fmt.Fprintf(&b, "Contact: %s %s, %s\n", lead.Contact.FirstName, lead.Contact.LastName, lead.Contact.Title)
	return b.String()
}

func messagingUserPrompt(lead *model.Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research summary: %s\n\n", lead.ResearchSummary)
	fmt.Fprintf(&b, "Prospect: %s %s, %s at %s\n", lead.Contact.FirstName, lead.Contact.LastName, lead.Contact.Title, lead.Company.Name)
	fmt.Fprintf(&b, "Tier: %s\n", lead.Tier)
	return b.String()
}

// extractJSON trims any prose the model wraps around the JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
