package ingestion

import (
	"strings"
	"testing"
)

func TestDatalogSchema_ContainsFieldTable(t *testing.T) {
	schema := DatalogSchema()

	if !strings.Contains(schema, "ragex_field") {
		t.Error("DatalogSchema() should contain ragex_field table")
	}
	// Verify key columns exist
	for _, col := range []string{"struct_name", "field_name", "field_type"} {
		if !strings.Contains(schema, col) {
			t.Errorf("ragex_field table should contain column %q", col)
		}
	}
}

func TestDatalogSchema_ContainsImplementsTable(t *testing.T) {
	schema := DatalogSchema()

	if !strings.Contains(schema, "ragex_implements") {
		t.Error("DatalogSchema() should contain ragex_implements table")
	}
	// Verify key columns exist
	for _, col := range []string{"type_name", "interface_name"} {
		if !strings.Contains(schema, col) {
			t.Errorf("ragex_implements table should contain column %q", col)
		}
	}
}
