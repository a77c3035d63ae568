// Package device provides the queue-level building blocks of the encoder on
// top of an interfaces.IDevice: a BufferQueue per direction ([Queue]), the
// format negotiation protocol ([Negotiator]) and the readiness poller
// ([Poller]).
//
// None of the types here are safe for concurrent use; they are owned by the
// encoder task context. The Poller is the exception: it runs its own
// goroutine and only reports back through callbacks.
package device
