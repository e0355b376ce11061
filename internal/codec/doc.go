// Package codec builds instrument command text and parses instrument
// responses.
//
// All formatting is locale invariant: numbers are rendered fixed-point with a
// period decimal separator regardless of how the operator typed them. Parse
// functions return *ParseError on lexical mismatch and never panic.
//
// The package performs no I/O.
package codec
