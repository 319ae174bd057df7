// Package canon produces canonical JSON and content fingerprints.
//
// Canonical JSON follows RFC 8785: object keys sorted by UTF-16 code
// units, no insignificant whitespace, no HTML escaping, NFC-normalized
// strings and ECMAScript number formatting. Two values that encode to the
// same canonical bytes are bit-identical for every field that reaches JSON,
// so canonical bytes are what determinism checks, ETags and golden
// snapshots compare.
package canon
