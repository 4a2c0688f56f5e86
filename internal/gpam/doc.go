// Package gpam computes median-weighted grade-point aggregates.
//
// GPAM for a student over a scope (all terms, or one term) is the sum, over the student's
// graded enrollments in scope, of the course offering's median grade point times the
// enrollment's units, divided by all units the student carried in scope. Ungraded
// (pass/no-pass) enrollments add units to the denominator but nothing to the numerator.
//
// The pieces are built in order and passed explicitly:
//
//	idx := gpam.NewCourseIndex(ledger.Records)
//	medians := gpam.NewMedianCache(idx, persisted)
//	engine := gpam.NewEngine(idx, medians)
//	filter := gpam.NewAdmittanceFilter(roster)
//	runner := gpam.NewRunner(idx, medians, engine, filter, opts...)
package gpam
