package logging

// DebugEnable is set with -ldflags "-X" at build time to produce a build that
// logs low-level detail such as raw transport payloads and per-line GPIO
// writes.
var DebugEnable string

// Debuggable is true for builds made with DebugEnable set. Code guarded by it
// should be cheap to skip in release builds.
var Debuggable = DebugEnable != ""
