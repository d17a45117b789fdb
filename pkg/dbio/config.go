package dbio

import (
	"os"
	"strings"
)

// NotifierConfig configures the optional change broadcaster. An empty
// ServiceEndpoint disables remote delivery.
type NotifierConfig struct {
	ServiceEndpoint string `json:"service_endpoint"`
	BroadcastKey    string `json:"broadcast_key"`
}

// Config is the configuration surface consumed by the persistence core.
type Config struct {
	// Factory selects the storage driver: inmem, fsbased, or docdb.
	Factory Driver `json:"factory"`
	// FSRoot is the filesystem driver's root directory.
	FSRoot string `json:"fs_root,omitempty"`
	// DBDSN is the document-database connection string.
	DBDSN string `json:"db_dsn,omitempty"`
	// DBDialect selects the document-database flavor: postgres or sqlite.
	DBDialect string `json:"db_dialect,omitempty"`

	// DefaultShoulder is used when a create request names none.
	DefaultShoulder string `json:"default_shoulder"`
	// AllowedProjectShoulders lists shoulders a create may request for
	// project records; the default shoulder is always allowed.
	AllowedProjectShoulders []string `json:"allowed_project_shoulders,omitempty"`
	// GroupShoulder mints group identifiers; defaults to grp0.
	GroupShoulder string `json:"group_shoulder,omitempty"`

	// Superusers bypass every ACL check.
	Superusers []string `json:"superusers,omitempty"`

	// NotifyOnUpdate extends change broadcasts to record updates.
	NotifyOnUpdate bool `json:"notify_on_update,omitempty"`
	// ClientNotifier configures the broadcast side-channel.
	ClientNotifier NotifierConfig `json:"client_notifier"`
}

// Environment variables recognized by ConfigFromEnv:
//
//	DBIO_FACTORY: inmem|fsbased|docdb (default inmem)
//	DBIO_FS_ROOT: root directory when factory=fsbased (default ./dbio-data)
//	DBIO_DB_DSN: connection string when factory=docdb
//	DBIO_DB_DIALECT: postgres|sqlite (default sqlite)
//	DBIO_DEFAULT_SHOULDER: default id shoulder (default mdm0)
//	DBIO_ALLOWED_SHOULDERS: comma-separated extra project shoulders
//	DBIO_SUPERUSERS: comma-separated superuser principals
//	DBIO_NOTIFIER_ENDPOINT / DBIO_NOTIFIER_KEY: broadcast side-channel

// ConfigFromEnv assembles a Config from process environment, applying
// defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := Config{
		Factory:         Driver(os.Getenv("DBIO_FACTORY")),
		FSRoot:          os.Getenv("DBIO_FS_ROOT"),
		DBDSN:           os.Getenv("DBIO_DB_DSN"),
		DBDialect:       os.Getenv("DBIO_DB_DIALECT"),
		DefaultShoulder: os.Getenv("DBIO_DEFAULT_SHOULDER"),
		ClientNotifier: NotifierConfig{
			ServiceEndpoint: os.Getenv("DBIO_NOTIFIER_ENDPOINT"),
			BroadcastKey:    os.Getenv("DBIO_NOTIFIER_KEY"),
		},
	}
	cfg.AllowedProjectShoulders = splitList(os.Getenv("DBIO_ALLOWED_SHOULDERS"))
	cfg.Superusers = splitList(os.Getenv("DBIO_SUPERUSERS"))
	return cfg.WithDefaults()
}

// WithDefaults fills unset fields with their documented defaults.
func (c Config) WithDefaults() Config {
	if c.Factory == "" {
		c.Factory = DriverInMem
	}
	if c.FSRoot == "" {
		c.FSRoot = "./dbio-data"
	}
	if c.DBDialect == "" {
		c.DBDialect = "sqlite"
	}
	if c.DefaultShoulder == "" {
		c.DefaultShoulder = "mdm0"
	}
	if c.GroupShoulder == "" {
		c.GroupShoulder = GroupShoulder
	}
	return c
}

// ShoulderAllowed reports whether project records may be minted under the
// given shoulder.
func (c Config) ShoulderAllowed(shoulder string) bool {
	if shoulder == c.DefaultShoulder {
		return true
	}
	return contains(c.AllowedProjectShoulders, shoulder)
}

// IsSuperuser reports whether the principal bypasses ACL checks.
func (c Config) IsSuperuser(principal string) bool {
	return contains(c.Superusers, principal)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
