package llm

import (
	"errors"
	"fmt"
	"net"

	"memoria/internal/domain"
)

// wrapUpstream classifies a provider SDK error as UpstreamTimeout or
// UpstreamError so the Task Runner's retry policy (domain.Retryable) can
// act on it without inspecting SDK-specific error types.
func wrapUpstream(provider string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %v", provider, domain.ErrSentinelUpstreamTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", provider, domain.ErrSentinelUpstreamError, err)
}

// WrapUpstream is the exported form for use by provider packages outside
// this package (internal/llm/anthropic, openai, google).
func WrapUpstream(provider string, err error) error { return wrapUpstream(provider, err) }

// ErrNoProviderConfigured wraps domain.ErrSentinelNoProvider for config-time
// dispatch failures (unknown provider name).
var ErrNoProviderConfigured = domain.ErrSentinelNoProvider
