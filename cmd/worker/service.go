package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"go.uber.org/multierr"
)

type pinger interface {
	Ping(context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger    *logger.Logger
	DB        pinger
	Redis     pinger
	PubSub    pinger
	Consumers []consumer
}

// Service runs the Pub/Sub consumers side by side and stops them all when
// one fails.
type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	consumers []consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	return &Service{
		logg: params.Logger,
		deps: map[string]pinger{
			"database": params.DB,
			"redis":    params.Redis,
			"pubsub":   params.PubSub,
		},
		consumers: params.Consumers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	var err error
	for _, name := range []string{"database", "redis", "pubsub"} {
		if pingErr := s.deps[name].Ping(ctx); pingErr != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), pingErr)
			err = multierr.Append(err, fmt.Errorf("%s ping failed: %w", name, pingErr))
		}
	}
	if err == nil {
		s.logg.Info(ctx, "all worker dependencies are ready")
	}
	return err
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, len(s.consumers))
	for _, c := range s.consumers {
		go func(c consumer) {
			errCh <- c.Run(runCtx)
		}(c)
	}

	var err error
	for range s.consumers {
		runErr := <-errCh
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			s.logg.Error(ctx, "consumer stopped unexpectedly", runErr)
			err = multierr.Append(err, runErr)
		}
		// one consumer down takes the rest with it
		cancel()
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}
