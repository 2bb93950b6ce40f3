// Package reportflow drives regulatory reports through a durable,
// multi-phase testing pipeline.
//
// Each report in a cycle gets one workflow instance. The instance runs a
// fixed sequence of phases; every phase is an ordered list of steps, and a
// step is either an automated activity call or a human gate that suspends
// until a named signal arrives. Two phases of the pipeline form a fork/join
// group and run concurrently.
//
// # Core Concepts
//
//  1. Client
//  2. PipelineBuilder
//  3. Activities
//  4. Signals and queries
//  5. LocalRunner and WorkerBundle
//
// # Client
//
// The Client starts, signals, queries, cancels and describes instances:
//
//	id, err := client.Start(ctx, reportflow.StartInput{CycleID: 9, ReportID: 156, UserID: 3})
//	// id == "9-156"
//
// Starting again while the instance is in progress returns the same id.
// Starting after it completed or failed creates "9-156-2", keeping the older
// instance queryable.
//
// Clients can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// With a durable backend, an instance parked on a human gate survives a
// process restart. Call Recover on startup to relaunch every in-progress
// instance; committed phases are not re-run and each phase resumes from its
// last completed step.
//
// Each running instance is owned through a lease in the store, renewed while
// it runs. Recover and Start skip instances leased by another Client, so
// several processes can share one store without running an instance twice.
// A crashed owner's instances become recoverable once its lease expires
// (see WithLease).
//
// # PipelineBuilder
//
// PipelineBuilder declares the phases, the retry policy table and the
// signal payload schemas:
//
//	def := reportflow.NewPipeline("report-testing", "v1").
//	    Phase("Planning",
//	        reportflow.Automated("start", "start_planning_phase", nil),
//	        reportflow.HumanGate("documents", "submit_planning_documents", "process_planning_documents",
//	            reportflow.WithAction("upload_planning_documents"),
//	            reportflow.WithMaxWait(72*time.Hour)),
//	    ).
//	    Policy("execute_test_cases", reportflow.Retry(5).WithExponentialBackoff(2*time.Second, 2, time.Minute).Policy()).
//	    MustBuild()
//
// # Activities
//
// Activities are registered by name in an ActivityRegistry. They may run
// more than once for the same step and must tolerate that. Errors are retried
// per the policy table unless wrapped with NonRetryable.
//
// # Signals and queries
//
// Signals may arrive before or after the gate that consumes them; an
// unconsumed signal is replaced by a newer one with the same name.
// GetCurrentStatus and GetAwaitingAction never change instance state.
//
// # LocalRunner and WorkerBundle
//
// LocalRunner bundles an in-memory client, queue and worker for development.
// WorkerBundle does the same on SQLite or Redis so queued signals survive
// restarts.
//
// The report-testing pipeline itself lives in package reporttesting.
package reportflow
