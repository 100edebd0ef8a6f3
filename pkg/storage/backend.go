// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"

	cozo "github.com/kraklabs/ragex/pkg/cozodb"
)

// QueryResult is the column-headers-plus-rows shape every CozoDB query
// returns, shared by the storage and tools packages.
type QueryResult struct {
	Headers []string
	Rows    [][]any
}

// FromNamedRows adapts the cozodb package's wire type to QueryResult.
func FromNamedRows(r cozo.NamedRows) *QueryResult {
	return &QueryResult{Headers: r.Headers, Rows: r.Rows}
}

// Backend is the storage-layer contract satisfied by EmbeddedBackend (and,
// in principle, a remote CozoDB-speaking backend). Query is read-only;
// Execute runs a mutation. Context cancellation is checked before the call
// reaches the database so long queries can be aborted cooperatively.
type Backend interface {
	Query(ctx context.Context, datalog string) (*QueryResult, error)
	Execute(ctx context.Context, datalog string) error
	Close() error
}

var _ Backend = (*EmbeddedBackend)(nil)
