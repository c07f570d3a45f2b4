package drivers

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/sashko-guz/ferry/internal/storage"
)

// Constructor builds a provider from a validated configuration.
type Constructor func(cfg storage.Config, logger *slog.Logger) (storage.Provider, error)

var constructors = map[storage.UploadType]Constructor{
	storage.TypeLocal: func(cfg storage.Config, logger *slog.Logger) (storage.Provider, error) {
		return NewLocal(cfg, logger)
	},
	storage.TypeS3: func(cfg storage.Config, logger *slog.Logger) (storage.Provider, error) {
		return NewS3(cfg, logger)
	},
	storage.TypeMinio: func(cfg storage.Config, logger *slog.Logger) (storage.Provider, error) {
		return NewMinio(cfg, logger)
	},
	storage.TypeOSS: func(cfg storage.Config, logger *slog.Logger) (storage.Provider, error) {
		return NewOSS(cfg, logger)
	},
	storage.TypeCOS: func(cfg storage.Config, logger *slog.Logger) (storage.Provider, error) {
		return NewCOS(cfg, logger)
	},
	storage.TypeKodo: func(cfg storage.Config, logger *slog.Logger) (storage.Provider, error) {
		return NewKodo(cfg, logger)
	},
	storage.TypeFastDFS: func(cfg storage.Config, logger *slog.Logger) (storage.Provider, error) {
		return NewFastDFS(cfg, logger)
	},
}

// New validates cfg and builds the provider for its upload type.
func New(cfg storage.Config, logger *slog.Logger) (storage.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctor, ok := constructors[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown upload type %q", storage.ErrConfiguration, cfg.Type)
	}

	provider, err := ctor(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", cfg.Type, err)
	}

	logger.Info("storage provider initialized",
		slog.String("upload_type", string(cfg.Type)),
		slog.String("server_url", cfg.ServerURL),
		slog.String("key_scheme", string(cfg.KeyScheme)),
	)
	return provider, nil
}

// Types lists the registered upload types in sorted order.
func Types() []storage.UploadType {
	types := make([]storage.UploadType, 0, len(constructors))
	for t := range constructors {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
