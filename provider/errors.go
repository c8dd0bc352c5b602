package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/flarexio/ragblade/rag"
)

var statusPattern = regexp.MustCompile(`status code:? (\d{3})`)

// classify maps a provider failure onto the rag error kinds. Providers report
// HTTP failures as text, so the status code is read back out of the message.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", rag.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())

	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		if kind := kindOfStatus(code, msg); kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
	}

	switch {
	case strings.Contains(msg, "context length"),
		strings.Contains(msg, "maximum context"),
		strings.Contains(msg, "too many tokens"):
		return fmt.Errorf("%w: %w", rag.ErrContextTooLarge, err)

	case strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %w", rag.ErrRateLimited, err)

	case strings.Contains(msg, "api key"),
		strings.Contains(msg, "unauthorized"):
		return fmt.Errorf("%w: %w", rag.ErrAuth, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") {
		return fmt.Errorf("%w: %w", rag.ErrConnection, err)
	}

	return fmt.Errorf("%w: %w", rag.ErrUnavailable, err)
}

func kindOfStatus(code int, msg string) error {
	switch {
	case code == 429:
		return rag.ErrRateLimited

	case code == 401, code == 403:
		return rag.ErrAuth

	case code == 413:
		return rag.ErrContextTooLarge

	case code == 400 && (strings.Contains(msg, "context length") || strings.Contains(msg, "maximum context")):
		return rag.ErrContextTooLarge

	case code == 408:
		return rag.ErrTimeout

	case code >= 500:
		return rag.ErrUnavailable

	case code >= 400:
		return rag.ErrInvalidInput
	}

	return nil
}
