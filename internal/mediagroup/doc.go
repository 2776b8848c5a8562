// Package mediagroup resolves the complete set of messages forming one album
// around an anchor message, using a bounded window fetch and a pass-scoped
// cache shared by concurrently processed tasks.
package mediagroup
