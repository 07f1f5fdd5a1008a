// SPDX-License-Identifier: AGPL-3.0-or-later
package llm

import "fmt"

// ProviderError wraps any LLM provider failure: timeouts, auth errors,
// malformed responses. Callers treat it as retryable-by-user and non-fatal;
// the client itself retries once with backoff before surfacing it.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
