// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passwordless.
//
// go-passwordless is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"fmt"

	"github.com/jeremyhahn/go-passwordless/internal/config"
	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/storage/file"
	"github.com/jeremyhahn/go-passwordless/pkg/storage/memory"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
	"github.com/jeremyhahn/go-passwordless/pkg/store/kv"
	"github.com/jeremyhahn/go-passwordless/pkg/store/sqlstore"
)

// OpenStore opens the record store selected by cfg.
func OpenStore(cfg config.StorageConfig, log *logger.SlogAdapter) (store.Store, error) {
	if log == nil {
		log = logger.Nop()
	}

	var (
		st  store.Store
		err error
	)
	switch cfg.Backend {
	case config.StorageMemory, "":
		st, err = kv.New(memory.New())

	case config.StorageFile:
		backend, ferr := file.New(cfg.Path)
		if ferr != nil {
			return nil, ferr
		}
		st, err = kv.New(backend)

	case config.StorageSqlite:
		st, err = sqlstore.Open(sqlstore.DriverSqlite, cfg.DSN, log.Slog())

	case config.StoragePostgres:
		st, err = sqlstore.Open(sqlstore.DriverPostgres, cfg.DSN, log.Slog())

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}
	return st, nil
}
