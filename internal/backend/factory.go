package backend

import (
	"context"
	"os"

	"dbio/internal/archive"
	"dbio/internal/backend/docdb"
	"dbio/internal/backend/fsbased"
	"dbio/internal/backend/inmem"
	"dbio/internal/notify"
	"dbio/pkg/dbio"
)

// OpenStore constructs the storage driver named by cfg.Factory.
func OpenStore(cfg dbio.Config) (dbio.Store, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Factory {
	case dbio.DriverInMem:
		return inmem.NewStore(), nil
	case dbio.DriverFSBased:
		return fsbased.NewStore(cfg.FSRoot)
	case dbio.DriverDocDB:
		return docdb.NewStore(cfg.DBDialect, cfg.DBDSN)
	default:
		return nil, dbio.ConfigurationError{Param: "factory", Message: "unknown storage driver " + string(cfg.Factory)}
	}
}

// Open constructs the driver selected by the configuration and wraps it in a
// Service. When a notifier endpoint is configured, a broadcaster for it is
// attached; an explicit WithNotifier option still wins.
func Open(cfg dbio.Config, opts ...Option) (*Service, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ClientNotifier.ServiceEndpoint != "" {
		opts = append([]Option{WithNotifier(notify.NewBroadcaster(cfg.ClientNotifier, nil))}, opts...)
	}
	return NewService(store, cfg, opts...), nil
}

// OpenFromEnv reads configuration from the process environment and opens the
// selected driver. Setting DBIO_ARCHIVE_DRIVER additionally attaches the
// archive mirror it names.
func OpenFromEnv(opts ...Option) (*Service, error) {
	if os.Getenv("DBIO_ARCHIVE_DRIVER") != "" {
		store, err := archive.Open(context.Background())
		if err != nil {
			return nil, err
		}
		opts = append([]Option{WithArchiver(archive.NewArchiver(store))}, opts...)
	}
	return Open(dbio.ConfigFromEnv(), opts...)
}
