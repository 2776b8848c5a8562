// Package cronmark computes schedule marks: the latest instant a 5-field cron
// expression fired at or before "now", evaluated in one fixed operating
// timezone, plus the cadence (average and shortest gap) of an expression.
package cronmark
