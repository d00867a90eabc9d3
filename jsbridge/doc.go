// Package jsbridge runs untrusted ECMAScript inside an embedded interpreter and
// lets it call out, synchronously, to host capabilities identified by name.
//
// Every value crossing the boundary passes through the structured Value model:
//   - script value → Value → canonical JSON document → MessagePack payload on the
//     way out to a Dispatcher;
//   - MessagePack response → Value → canonical JSON document → script value on
//     the way back in;
//   - the completion value of a program → Value for the caller of Evaluate.
//
// Each Evaluate call builds a fresh interpreter, registers the natives passed in
// EvalOptions (the call bridge among them when using Run), evaluates the source
// as a single program, and tears the interpreter down again. An Engine holds
// only immutable configuration and may be shared between goroutines.
//
// Integers beyond ±2^53 in a capability response become BigInt values in
// script code, and BigInt values convert back out as exact decimal strings.
//
// Capability failures are handed back to script code as ordinary string values
// by default; FailureAsException turns them into catchable CapabilityError
// exceptions instead.
package jsbridge
