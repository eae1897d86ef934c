package loader

import (
	"encoding/json"
	"testing"

	"github.com/Quackstro/opencore-sub001/internal/models"
)

func mustJSON(t *testing.T, def *models.WorkflowDefinition) string {
	t.Helper()
	b, err := json.Marshal(def)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
