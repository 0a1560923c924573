// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package relay

import (
	"errors"
	"fmt"
)

// IOError marks a ledger failure caused by the underlying storage. The
// ledger is the correctness backbone, so callers must treat it as fatal to
// the process rather than retry over a possibly inconsistent store.
type IOError struct {
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ledger io failure: %v", e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func IsIOFailure(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
