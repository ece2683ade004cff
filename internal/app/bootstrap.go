package app

import (
	"seobot/internal/config"
	"seobot/internal/provider/ahrefs"
	"seobot/internal/schedule"
	"seobot/internal/storage"
	logx "seobot/pkg/logx"
)

// Helpers for one-shot CLI commands that need a piece of the bot without
// starting it.

// LoadConfig parses and validates path. Chat adapters are not required.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewManager(path).Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg, false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func NewProvider(cfg *config.Config, log logx.Logger) (*ahrefs.Client, error) {
	acfg, err := mapAhrefsConfig(cfg)
	if err != nil {
		return nil, err
	}
	return ahrefs.New(acfg, nil, log), nil
}

// OpenSchedules returns the schedule store, loaded. A running bot picks up
// changes made through it via its file watcher.
func OpenSchedules(cfg *config.Config, log logx.Logger) (*schedule.Store, error) {
	st := schedule.NewStore(schedulesPath(cfg), log)
	if _, err := st.Load(); err != nil {
		return nil, err
	}
	return st, nil
}

// OpenAudit returns (nil, nil) when no audit storage is configured.
func OpenAudit(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	return storage.Open(sc, log)
}
