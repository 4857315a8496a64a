package cmd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/mediavault/simfiles/api"
	"github.com/mediavault/simfiles/internal/filestate"
	"github.com/mediavault/simfiles/internal/store"
	"github.com/mediavault/simfiles/internal/vptree"
)

func loadConfig() (api.Config, error) {
	if configPath == "" {
		return api.DefaultConfig(), nil
	}
	cfg, err := api.LoadConfig(configPath)
	if err != nil {
		return api.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return api.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openIndex() (*store.DB, *vptree.Index, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(dbPath, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return db, vptree.New(db, cfg, rnd), nil
}

func openFilestate() (*filestate.Store, error) {
	fs, err := filestate.Open(filestatePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filestatePath, err)
	}
	return fs, nil
}
