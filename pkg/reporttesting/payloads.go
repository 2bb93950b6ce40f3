package reporttesting

import (
	"errors"
	"fmt"

	"github.com/petrijr/reportflow/pkg/api"
)

// Document is one uploaded planning document.
type Document struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	URL  string `json:"url,omitempty"`
}

// PlanningDocuments is the body of the planning documents upload gate.
type PlanningDocuments struct {
	Documents []Document `json:"documents"`
}

// Attribute is a report attribute selected for testing.
type Attribute struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Critical    bool   `json:"critical,omitempty"`
}

// PlanningAttributes is the body of the planning attribute selection gate.
type PlanningAttributes struct {
	Attributes []Attribute `json:"attributes"`
}

// RuleDecision approves or rejects one data profiling rule.
type RuleDecision struct {
	RuleID   int64  `json:"rule_id"`
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}

// ProfilingRuleDecisions is the body of the profiling rule review gate.
type ProfilingRuleDecisions struct {
	Decisions []RuleDecision `json:"decisions"`
}

// ScopingDecision puts one attribute in or out of testing scope.
type ScopingDecision struct {
	AttributeID int64  `json:"attribute_id"`
	InScope     bool   `json:"in_scope"`
	Rationale   string `json:"rationale,omitempty"`
}

// ScopingDecisions is the body of the scoping decisions gate.
type ScopingDecisions struct {
	Decisions []ScopingDecision `json:"decisions"`
}

// Approval is the body of the scoping and final report approval gates.
type Approval struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}

// SampleDecision approves or rejects one selected sample.
type SampleDecision struct {
	SampleID string `json:"sample_id"`
	Approved bool   `json:"approved"`
}

// SampleDecisions is the body of the sample review gate.
type SampleDecisions struct {
	Decisions []SampleDecision `json:"decisions"`
}

// DataOwnerAssignment names the user who owns an attribute's source data.
type DataOwnerAssignment struct {
	AttributeID int64 `json:"attribute_id"`
	OwnerUserID int64 `json:"owner_user_id"`
}

// DataOwnerAssignments is the body of the data owner assignment gate.
type DataOwnerAssignments struct {
	Assignments []DataOwnerAssignment `json:"assignments"`
}

// EvidenceFile is one evidence upload for a sample.
type EvidenceFile struct {
	SampleID string `json:"sample_id"`
	Name     string `json:"name"`
}

// Evidence is the body of the evidence submission gate.
type Evidence struct {
	Files []EvidenceFile `json:"files"`
}

// TestReview records the outcome of one executed test case.
type TestReview struct {
	TestCaseID string `json:"test_case_id"`
	Passed     bool   `json:"passed"`
	Comment    string `json:"comment,omitempty"`
}

// TestReviews is the body of the test execution review gate.
type TestReviews struct {
	Reviews []TestReview `json:"reviews"`
}

// ObservationDecision accepts or rejects one raised observation.
type ObservationDecision struct {
	ObservationID string `json:"observation_id"`
	Accepted      bool   `json:"accepted"`
	Severity      string `json:"severity,omitempty"`
}

// ObservationDecisions is the body of the observation management gate.
type ObservationDecisions struct {
	Decisions []ObservationDecision `json:"decisions"`
}

// Input types expected in SignalPayload.InputType.
const (
	InputDocuments            = "documents"
	InputAttributes           = "attributes"
	InputRuleDecisions        = "rule_decisions"
	InputScopingDecisions     = "scoping_decisions"
	InputApproval             = "approval"
	InputSampleDecisions      = "sample_decisions"
	InputDataOwnerAssignments = "data_owner_assignments"
	InputEvidence             = "evidence"
	InputTestReviews          = "test_reviews"
	InputObservationDecisions = "observation_decisions"
)

var errEmpty = errors.New("must contain at least one entry")

func nonEmpty[T any](field string, items []T) error {
	if len(items) == 0 {
		return fmt.Errorf("%s %w", field, errEmpty)
	}
	return nil
}

// Schemas returns the payload schema of every signal of the pipeline.
func Schemas() map[string]api.SignalSchema {
	return map[string]api.SignalSchema{
		SignalPlanningDocuments: api.TypedSchema(InputDocuments, func(p PlanningDocuments) error {
			if err := nonEmpty("documents", p.Documents); err != nil {
				return err
			}
			for i, d := range p.Documents {
				if d.Name == "" {
					return fmt.Errorf("documents[%d].name is required", i)
				}
			}
			return nil
		}),
		SignalPlanningAttributes: api.TypedSchema(InputAttributes, func(p PlanningAttributes) error {
			if err := nonEmpty("attributes", p.Attributes); err != nil {
				return err
			}
			for i, a := range p.Attributes {
				if a.Name == "" {
					return fmt.Errorf("attributes[%d].name is required", i)
				}
			}
			return nil
		}),
		SignalProfilingRuleDecisions: api.TypedSchema(InputRuleDecisions, func(p ProfilingRuleDecisions) error {
			return nonEmpty("decisions", p.Decisions)
		}),
		SignalScopingDecisions: api.TypedSchema(InputScopingDecisions, func(p ScopingDecisions) error {
			return nonEmpty("decisions", p.Decisions)
		}),
		SignalScopingApproval: api.TypedSchema[Approval](InputApproval, nil),
		SignalSampleDecisions: api.TypedSchema(InputSampleDecisions, func(p SampleDecisions) error {
			return nonEmpty("decisions", p.Decisions)
		}),
		SignalDataOwnerAssignments: api.TypedSchema(InputDataOwnerAssignments, func(p DataOwnerAssignments) error {
			if err := nonEmpty("assignments", p.Assignments); err != nil {
				return err
			}
			for i, a := range p.Assignments {
				if a.OwnerUserID <= 0 {
					return fmt.Errorf("assignments[%d].owner_user_id must be positive", i)
				}
			}
			return nil
		}),
		SignalEvidence: api.TypedSchema(InputEvidence, func(p Evidence) error {
			return nonEmpty("files", p.Files)
		}),
		SignalTestReviews: api.TypedSchema(InputTestReviews, func(p TestReviews) error {
			return nonEmpty("reviews", p.Reviews)
		}),
		SignalObservationDecisions: api.TypedSchema[ObservationDecisions](InputObservationDecisions, nil),
		SignalReportApproval:       api.TypedSchema[Approval](InputApproval, nil),
	}
}

// ExamplePayload returns a valid payload for signal, submitted by userID.
// It reports false for signals the pipeline does not define.
func ExamplePayload(signal string, userID int64) (api.SignalPayload, bool) {
	var (
		inputType string
		body      any
	)
	switch signal {
	case SignalPlanningDocuments:
		inputType, body = InputDocuments, PlanningDocuments{Documents: []Document{{Name: "test-plan.pdf", Type: "plan"}}}
	case SignalPlanningAttributes:
		inputType, body = InputAttributes, PlanningAttributes{Attributes: []Attribute{{Name: "Total Assets", Critical: true}}}
	case SignalProfilingRuleDecisions:
		inputType, body = InputRuleDecisions, ProfilingRuleDecisions{Decisions: []RuleDecision{{RuleID: 1, Approved: true}}}
	case SignalScopingDecisions:
		inputType, body = InputScopingDecisions, ScopingDecisions{Decisions: []ScopingDecision{{AttributeID: 1, InScope: true}}}
	case SignalScopingApproval, SignalReportApproval:
		inputType, body = InputApproval, Approval{Approved: true}
	case SignalSampleDecisions:
		inputType, body = InputSampleDecisions, SampleDecisions{Decisions: []SampleDecision{{SampleID: "S-1", Approved: true}}}
	case SignalDataOwnerAssignments:
		inputType, body = InputDataOwnerAssignments, DataOwnerAssignments{Assignments: []DataOwnerAssignment{{AttributeID: 1, OwnerUserID: userID}}}
	case SignalEvidence:
		inputType, body = InputEvidence, Evidence{Files: []EvidenceFile{{SampleID: "S-1", Name: "ledger.xlsx"}}}
	case SignalTestReviews:
		inputType, body = InputTestReviews, TestReviews{Reviews: []TestReview{{TestCaseID: "TC-1", Passed: true}}}
	case SignalObservationDecisions:
		inputType, body = InputObservationDecisions, ObservationDecisions{}
	default:
		return api.SignalPayload{}, false
	}

	data, err := api.EncodeData(body)
	if err != nil {
		return api.SignalPayload{}, false
	}
	return api.SignalPayload{InputType: inputType, Data: data, UserID: userID}, true
}
