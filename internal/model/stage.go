package model

import "fmt"

// Stage identifies one of the nine fixed pipeline stages. Stage order and
// semantics are fixed; stages are not user-programmable.
type Stage int

const (
	StageIngest Stage = iota + 1
	StageCompanyEnrich
	StageContactEnrich
	StageEmailVerify
	StageScore
	StageResearch
	StageMessage
	StageCRMSync
	StageCampaign
)

// MinStage and MaxStage bound the valid stage range.
const (
	MinStage = StageIngest
	MaxStage = StageCampaign
)

var stageNames = map[Stage]string{
	StageIngest:        "ingest",
	StageCompanyEnrich: "company_enrichment",
	StageContactEnrich: "contact_enrichment",
	StageEmailVerify:   "email_verification",
	StageScore:         "scoring",
	StageResearch:      "research",
	StageMessage:       "messaging",
	StageCRMSync:       "crm_sync",
	StageCampaign:      "campaign",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return fmt.Sprintf("%d_%s", int(s), name)
	}
	return fmt.Sprintf("%d_unknown", int(s))
}

// Valid reports whether s is within the fixed stage range.
func (s Stage) Valid() bool {
	return s >= MinStage && s <= MaxStage
}

// statusByStage maps each stage to the lead status set when the stage
// completes successfully for a lead.
var statusByStage = map[Stage]LeadStatus{
	StageIngest:        StatusNew,
	StageCompanyEnrich: StatusEnrichingCompany,
	StageContactEnrich: StatusEnrichingContact,
	StageEmailVerify:   StatusVerifying,
	StageScore:         StatusScored,
	StageResearch:      StatusResearched,
	StageMessage:       StatusMessaged,
	StageCRMSync:       StatusSynced,
	StageCampaign:      StatusCampaigned,
}

// CompletionStatus returns the lead status recorded after the stage succeeds.
func (s Stage) CompletionStatus() LeadStatus {
	return statusByStage[s]
}

// EligibleStatus returns the lead status required to enter the stage: the
// completion status of the previous stage.
func (s Stage) EligibleStatus() LeadStatus {
	return statusByStage[s-1]
}

// FieldCategory groups the lead attributes a cascade resolves together.
type FieldCategory string

const (
	CategoryCompany FieldCategory = "company"
	CategoryContact FieldCategory = "contact"
	CategoryEmail   FieldCategory = "email"
)
