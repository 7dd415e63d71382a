package geo

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/pkg/models"
)

// Locator answers a one-shot "current position" query
type Locator interface {
	CurrentPosition(ctx context.Context) (models.Coordinates, error)
}

// Fixed always reports the same position
type Fixed models.Coordinates

func (f Fixed) CurrentPosition(ctx context.Context) (models.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinates{}, err
	}
	return models.Coordinates(f), nil
}

// Unavailable never has a position, e.g. when no location source is configured
type Unavailable struct{}

func (Unavailable) CurrentPosition(ctx context.Context) (models.Coordinates, error) {
	return models.Coordinates{}, fmt.Errorf("%w: no location source", apperr.ErrPositionUnavailable)
}

// Resolve asks loc for the position and falls back when it is unavailable.
// Cancellation is returned as is so callers can tell teardown from failure.
func Resolve(ctx context.Context, loc Locator, fallback models.Coordinates, logger zerolog.Logger) (models.Coordinates, error) {
	if loc == nil {
		return fallback, nil
	}
	pos, err := loc.CurrentPosition(ctx)
	switch {
	case err == nil:
		return pos, nil
	case errors.Is(err, context.Canceled):
		return models.Coordinates{}, err
	case errors.Is(err, apperr.ErrPositionUnavailable):
		logger.Info().Err(err).Float64("lat", fallback.Latitude).Float64("lng", fallback.Longitude).
			Msg("Position unavailable, using default coordinates")
		return fallback, nil
	default:
		logger.Warn().Err(err).Msg("Locator failed, using default coordinates")
		return fallback, nil
	}
}
