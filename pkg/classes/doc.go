// Package classes manages teacher classes, join codes, membership and
// per-student progress derived from telemetry.
package classes
