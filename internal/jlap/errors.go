package jlap

import "fmt"

// IntegrityError covers the three fatal/recoverable hash-chain failures: a
// broken checksum chain, a patch chain that doesn't connect to the
// cache's current hash, and a post-apply hash that doesn't match the
// footer's promised result.
type IntegrityError struct {
	Code string // "CHECKSUM_MISMATCH" | "NO_HASH_FOUND" | "HASHES_NOT_MATCHING"
	Msg  string
}

func (e *IntegrityError) Error() string { return fmt.Sprintf("jlap: %s: %s", e.Code, e.Msg) }

func errChecksumMismatch(msg string) error {
	return &IntegrityError{Code: "CHECKSUM_MISMATCH", Msg: msg}
}

func errNoHashFound(msg string) error {
	return &IntegrityError{Code: "NO_HASH_FOUND", Msg: msg}
}

func errHashesNotMatching(msg string) error {
	return &IntegrityError{Code: "HASHES_NOT_MATCHING", Msg: msg}
}

// ProtocolError covers non-integrity protocol violations: a range request
// that still fails after the one permitted retry from byte 0, or a
// malformed JLAP document.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("jlap: protocol error: %s", e.Msg) }

func errProtocol(format string, args ...any) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}
