package usecase

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

const instrumentationName = "github.com/danielp1234/saas-metrics-sub000/internal/usecase"

var tracer = otel.Tracer(instrumentationName)

// translateStoreError maps backing-store failures onto the stable taxonomy.
// Domain errors pass through untouched.
func translateStoreError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrUpstreamTimeout.WithMessage("%s timed out", operation).Wrap(err)
	}
	return domain.ErrStoreUnavailable.WithMessage("%s unavailable", operation).Wrap(err)
}

// outcome is the metric label for err.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(domain.CodeOf(err))
}
