// Package agent runs the gate controller. It owns the transport session, the
// fixed-cadence control loop and the background update worker.
//
// Each control loop cycle runs the same steps in the same order: make sure
// the session is active, take one snapshot of the requested commands,
// resolve and apply them to the drive lines, echo the resolved commands as a
// heartbeat and finally report any sensor that changed. Nothing in a cycle
// runs while the session is not active.
//
// The agent makes no decisions of its own beyond the arbitration rule; the
// operator's commands and the release repository tell it what to do.
package agent
