// Package logger wraps zap with a global sugared logger, level parsing and
// context helpers (ToContext/FromContext/WithName/WithKV).
//
// Packaging code takes a context and logs through it, so a caller can scope
// every line of one run (for example by serial number) with WithKV.
package logger
