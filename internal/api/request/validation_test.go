package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, body string, v any) error {
	t.Helper()
	r := httptest.NewRequest("POST", "/", strings.NewReader(body))
	return Decode(r, v)
}

func TestDecode_SlugNames(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"simple", "orders-db", false},
		{"underscore", "orders_db", false},
		{"digits", "db2", false},
		{"spaces rejected", "Orders DB", true},
		{"uppercase rejected", "Orders-DB", true},
		{"leading digit rejected", "2db", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req CreateDatasource
			err := decodeBody(t, `{"name": "`+tt.value+`", "engine": "postgres"}`, &req)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "validation error")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.value, req.Name)
			}
		})
	}
}

func TestDecode_RestoreBindsTargetDatasourceID(t *testing.T) {
	var req RestoreBackup
	err := decodeBody(t, `{
		"target_datasource_id": "ds-1",
		"verification_mode": true,
		"confirmation_phrase": "VERIFICAR RESTORE"
	}`, &req)
	require.NoError(t, err)
	assert.Equal(t, "ds-1", req.TargetDatasourceID)
	assert.True(t, req.VerificationMode)
}

func TestDecode_RestoreRequiresTargetDatasourceID(t *testing.T) {
	var req RestoreBackup
	err := decodeBody(t, `{"confirmation_phrase": "RESTAURAR"}`, &req)
	require.Error(t, err)
}

func TestDecode_JobTargetBindsOrderKey(t *testing.T) {
	var req CreateBackupJob
	err := decodeBody(t, `{
		"name": "orders-nightly",
		"datasource_id": "ds-1",
		"schedule": "0 2 * * *",
		"targets": [
			{"storage_location_id": "loc-1", "order": 1, "replicate": true},
			{"storage_location_id": "loc-2", "order": 2}
		]
	}`, &req)
	require.NoError(t, err)
	require.Len(t, req.Targets, 2)
	assert.Equal(t, 1, req.Targets[0].Position)
	assert.Equal(t, 2, req.Targets[1].Position)
}
