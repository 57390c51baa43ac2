// Package schedule derives the report and checkpoint cadence, batch splitting,
// and checkpoint file names that a training configuration implies.
package schedule
