// Copyright © 2025 SignBridge Contributors
//
// SPDX-License-Identifier: MIT

package keys

import "fmt"

// KeyFormatError reports private key material that could not be decoded or
// imported. The message describes what made the material unusable and never
// includes the material itself.
type KeyFormatError struct {
	// Reason names the stage that rejected the material.
	Reason string
	// Err is the underlying decode or parse error, if any.
	Err error
}

func (e *KeyFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid private key material: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid private key material: %s", e.Reason)
}

// Unwrap returns the underlying decode or parse error.
func (e *KeyFormatError) Unwrap() error { return e.Err }
