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

package tools

import (
	"context"
	"strings"
	"testing"
)

// setupTest returns a background context for a tool-handler test. A single
// indirection point in case tests later need request-scoped values.
func setupTest(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}

// assertNoError fails the test if err is non-nil.
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// assertContains fails the test if s does not contain substr.
func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("expected %q to contain %q", s, substr)
	}
}

// assertNotContains fails the test if s contains substr.
func assertNotContains(t *testing.T, s, substr string) {
	t.Helper()
	if strings.Contains(s, substr) {
		t.Fatalf("expected %q to not contain %q", s, substr)
	}
}

// MockRagexClient is a test double for Querier. QueryFunc drives Query's
// behavior; ExecFunc is unused by the current tool handlers (none of them
// need a mutating query) but is kept so the mock can grow into the full
// storage.Backend surface without another round of signature churn.
type MockRagexClient struct {
	QueryFunc func(ctx context.Context, script string) (*QueryResult, error)
	ExecFunc  func(ctx context.Context, script string) error
}

func (m *MockRagexClient) Query(ctx context.Context, script string) (*QueryResult, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, script)
	}
	return &QueryResult{}, nil
}

func (m *MockRagexClient) Execute(ctx context.Context, script string) error {
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, script)
	}
	return nil
}

// NewMockClientWithResults builds a client that returns the same headers and
// rows for every query.
func NewMockClientWithResults(headers []string, rows [][]any) *MockRagexClient {
	return &MockRagexClient{
		QueryFunc: func(ctx context.Context, script string) (*QueryResult, error) {
			return &QueryResult{Headers: headers, Rows: rows}, nil
		},
	}
}

// NewMockClientEmpty builds a client whose every query returns zero rows.
func NewMockClientEmpty() *MockRagexClient {
	return &MockRagexClient{
		QueryFunc: func(ctx context.Context, script string) (*QueryResult, error) {
			return &QueryResult{Headers: []string{}, Rows: [][]any{}}, nil
		},
	}
}

// NewMockClientWithError builds a client whose every query fails with err.
func NewMockClientWithError(err error) *MockRagexClient {
	return &MockRagexClient{
		QueryFunc: func(ctx context.Context, script string) (*QueryResult, error) {
			return nil, err
		},
	}
}

// NewMockClientCustom builds a client backed directly by queryFunc, for
// tests that need to branch on the CozoScript text (e.g. distinguishing a
// direct-callee lookup from an interface-dispatch lookup). execFunc may be
// nil; it is exercised only by tests that also drive a mutating operation.
func NewMockClientCustom(queryFunc func(ctx context.Context, script string) (*QueryResult, error), execFunc func(ctx context.Context, script string) error) *MockRagexClient {
	return &MockRagexClient{QueryFunc: queryFunc, ExecFunc: execFunc}
}

// NewMockQueryResult is a small literal constructor used where tests build
// ad hoc results inline.
func NewMockQueryResult(headers []string, rows [][]any) *QueryResult {
	return &QueryResult{Headers: headers, Rows: rows}
}
