package reporttesting

import (
	"time"

	"github.com/petrijr/reportflow"
	"github.com/petrijr/reportflow/pkg/api"
)

// PipelineName identifies the report-testing pipeline in stored instances.
const (
	PipelineName    = "report-testing"
	PipelineVersion = "v1"
)

// Phase names in pipeline order. Sample Selection and Data Owner
// Identification form the fork/join group.
const (
	PhasePlanning                = "Planning"
	PhaseDataProfiling           = "Data Profiling"
	PhaseScoping                 = "Scoping"
	PhaseSampleSelection         = "Sample Selection"
	PhaseDataOwnerIdentification = "Data Owner Identification"
	PhaseRequestForInformation   = "Request for Information"
	PhaseTesting                 = "Testing"
	PhaseObservationManagement   = "Observation Management"
	PhaseFinalizeTestReport      = "Finalize Test Report"
)

// Signal names, one per human gate.
const (
	SignalPlanningDocuments      = "submit_planning_documents"
	SignalPlanningAttributes     = "submit_planning_attributes"
	SignalProfilingRuleDecisions = "submit_profiling_rule_decisions"
	SignalScopingDecisions       = "submit_scoping_decisions"
	SignalScopingApproval        = "submit_scoping_approval"
	SignalSampleDecisions        = "submit_sample_decisions"
	SignalDataOwnerAssignments   = "submit_data_owner_assignments"
	SignalEvidence               = "submit_evidence"
	SignalTestReviews            = "submit_test_reviews"
	SignalObservationDecisions   = "submit_observation_decisions"
	SignalReportApproval         = "submit_report_approval"
)

// Activities with a heavier retry policy than the default.
const (
	ActivityExecuteProfilingRules         = "execute_profiling_rules"
	ActivityGenerateScopingRecommendation = "generate_scoping_recommendations"
	ActivityGenerateSamples               = "generate_samples"
	ActivityExecuteTestCases              = "execute_test_cases"
	ActivityGenerateTestReport            = "generate_test_report"
)

// Phases lists every phase name in pipeline order.
var Phases = []string{
	PhasePlanning,
	PhaseDataProfiling,
	PhaseScoping,
	PhaseSampleSelection,
	PhaseDataOwnerIdentification,
	PhaseRequestForInformation,
	PhaseTesting,
	PhaseObservationManagement,
	PhaseFinalizeTestReport,
}

// DefaultPolicy applies to bookkeeping and gate completion activities.
var DefaultPolicy = reportflow.Retry(3).
	WithExponentialBackoff(time.Second, 2.0, 30*time.Second).
	WithTimeout(5 * time.Minute).
	Policy()

// HeavyPolicy applies to long-running generation and execution activities.
var HeavyPolicy = reportflow.Retry(5).
	WithExponentialBackoff(2*time.Second, 2.0, time.Minute).
	WithTimeout(30 * time.Minute).
	Policy()

// Policies returns the activity policy table of the pipeline.
func Policies() api.PolicyTable {
	return api.PolicyTable{
		Default: DefaultPolicy,
		Policies: map[string]api.RetryPolicy{
			ActivityExecuteProfilingRules:         HeavyPolicy,
			ActivityGenerateScopingRecommendation: HeavyPolicy,
			ActivityGenerateSamples:               HeavyPolicy,
			ActivityExecuteTestCases:              HeavyPolicy,
			ActivityGenerateTestReport:            HeavyPolicy,
		},
	}
}

func gate(name, signal, action, completion string, maxWait time.Duration) api.StepDefinition {
	return reportflow.HumanGate(name, signal, completion,
		reportflow.WithAction(action),
		reportflow.WithMaxWait(maxWait),
	)
}

func auto(name, activity string) api.StepDefinition {
	return reportflow.Automated(name, activity, nil)
}

// Pipeline returns the report-testing pipeline definition.
func Pipeline() api.PipelineDefinition {
	b := reportflow.NewPipeline(PipelineName, PipelineVersion).
		Phase(PhasePlanning,
			auto("start", "start_planning_phase"),
			gate("documents", SignalPlanningDocuments, "upload_planning_documents", "process_planning_documents", 72*time.Hour),
			gate("attributes", SignalPlanningAttributes, "create_planning_attributes", "save_planning_attributes", 72*time.Hour),
			auto("complete", "complete_planning_phase"),
		).
		Phase(PhaseDataProfiling,
			auto("start", "start_data_profiling_phase"),
			auto("generate_rules", "generate_profiling_rules"),
			gate("rule_decisions", SignalProfilingRuleDecisions, "review_profiling_rules", "apply_profiling_rule_decisions", 48*time.Hour),
			auto("execute_rules", ActivityExecuteProfilingRules),
			auto("complete", "complete_data_profiling_phase"),
		).
		Phase(PhaseScoping,
			auto("start", "start_scoping_phase"),
			auto("recommend", ActivityGenerateScopingRecommendation),
			gate("decisions", SignalScopingDecisions, "make_scoping_decisions", "apply_scoping_decisions", 48*time.Hour),
			gate("approval", SignalScopingApproval, "approve_scoping", "record_scoping_approval", 24*time.Hour),
			auto("complete", "complete_scoping_phase"),
		).
		Parallel(PhaseSampleSelection,
			auto("start", "start_sample_selection_phase"),
			auto("generate_samples", ActivityGenerateSamples),
			gate("sample_decisions", SignalSampleDecisions, "review_samples", "apply_sample_decisions", 48*time.Hour),
			auto("complete", "complete_sample_selection_phase"),
		).
		Parallel(PhaseDataOwnerIdentification,
			auto("start", "start_data_owner_identification_phase"),
			auto("identify_owners", "identify_data_owners"),
			gate("assignments", SignalDataOwnerAssignments, "assign_data_owners", "save_data_owner_assignments", 48*time.Hour),
			auto("complete", "complete_data_owner_identification_phase"),
		).
		Phase(PhaseRequestForInformation,
			auto("start", "start_request_for_information_phase"),
			auto("send_requests", "send_information_requests"),
			gate("evidence", SignalEvidence, "upload_evidence", "collect_evidence", 72*time.Hour),
			auto("complete", "complete_request_for_information_phase"),
		).
		Phase(PhaseTesting,
			auto("start", "start_testing_phase"),
			auto("execute_tests", ActivityExecuteTestCases),
			gate("reviews", SignalTestReviews, "review_test_results", "apply_test_reviews", 48*time.Hour),
			auto("complete", "complete_testing_phase"),
		).
		Phase(PhaseObservationManagement,
			auto("start", "start_observation_management_phase"),
			auto("generate_observations", "generate_observations"),
			gate("observation_decisions", SignalObservationDecisions, "review_observations", "apply_observation_decisions", 48*time.Hour),
			auto("complete", "complete_observation_management_phase"),
		).
		Phase(PhaseFinalizeTestReport,
			auto("start", "start_finalize_test_report_phase"),
			auto("generate_report", ActivityGenerateTestReport),
			gate("approval", SignalReportApproval, "approve_test_report", "sign_off_test_report", 24*time.Hour),
			auto("complete", "complete_finalize_test_report_phase"),
		)

	policies := Policies()
	b.DefaultPolicy(policies.Default)
	for activity, p := range policies.Policies {
		b.Policy(activity, p)
	}
	for signal, schema := range Schemas() {
		b.Schema(signal, schema)
	}
	return b.MustBuild()
}
