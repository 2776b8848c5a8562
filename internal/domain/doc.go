// Package domain holds the value types shared by the dispatch core: task rows,
// log entries, message references and the textual destination/link formats
// used by the task sheet.
package domain
