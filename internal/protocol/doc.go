// Package protocol owns the collaboration wire contract.
//
// Ownership boundary:
// - method vocabulary and typed message payloads
// - tuple codec (encode/decode, arity and type checks)
// - stream framing primitives (see frame)
//
// A wire frame is a JSON array whose first element is the method name and
// whose remaining elements are the positional arguments of that method.
package protocol
