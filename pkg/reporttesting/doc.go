// Package reporttesting defines the regulatory report-testing pipeline:
// nine phases from Planning to Finalize Test Report, with Sample Selection
// and Data Owner Identification running as the fork/join pair.
//
// Pipeline returns the definition, Schemas the payload schema of every
// human gate, and StubActivities an activity set that lets the pipeline run
// end to end without business services.
package reporttesting
