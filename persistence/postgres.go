// Copyright (C) 2025 agentmesh
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentmesh/fabric/tasklist"
)

// PostgresConfig holds connection parameters for PostgresStore, for
// deployments that already run Postgres for the contact store and want
// task-list snapshots alongside it in one database rather than a
// separate snapshot directory.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Retention is the number of most recent snapshot rows kept per
	// list, pruned after each successful write.
	Retention int
}

// PostgresStore implements Store against a `task_list_snapshots` table,
// keyed by list ID with a monotonic sequence column standing in for the
// file backend's numbered file names.
type PostgresStore struct {
	pool      *pgxpool.Pool
	retention int
}

// NewPostgresStore opens a pool against cfg and verifies connectivity
// with a Ping before returning, so a misconfigured deployment fails at
// startup rather than on the first checkpoint.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("persistence: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persistence: ping: %w", err)
	}
	retention := cfg.Retention
	if retention < 1 {
		retention = 1
	}
	return &PostgresStore{pool: pool, retention: retention}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Save inserts a new snapshot row for list and prunes older rows for
// the same list ID beyond Retention.
func (s *PostgresStore) Save(list *tasklist.TaskList) error {
	data, err := encodeSnapshot(list)
	if err != nil {
		return err
	}
	ctx := context.Background()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO task_list_snapshots (list_id, seq, envelope, created_at)
		 VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM task_list_snapshots WHERE list_id = $1), $2, NOW())`,
		list.ID[:], data,
	)
	if err != nil {
		return fmt.Errorf("persistence: insert snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM task_list_snapshots
		 WHERE list_id = $1 AND seq <= (
		     SELECT seq FROM task_list_snapshots
		     WHERE list_id = $1
		     ORDER BY seq DESC
		     OFFSET $2 LIMIT 1
		 )`,
		list.ID[:], s.retention,
	)
	if err != nil {
		return fmt.Errorf("persistence: prune snapshots: %w", err)
	}
	return nil
}

// Load returns the newest row that decodes cleanly, across every list
// ID in the table (a single-node agent has exactly one), skipping
// malformed rows rather than failing outright.
func (s *PostgresStore) Load() (*tasklist.TaskList, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx,
		`SELECT envelope FROM task_list_snapshots ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("persistence: query snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var envelope []byte
		if err := rows.Scan(&envelope); err != nil {
			continue
		}
		list, err := decodeSnapshot(envelope)
		if err != nil {
			continue
		}
		return list, nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: iterate snapshots: %w", err)
	}
	return nil, ErrNoLoadableSnapshot
}
