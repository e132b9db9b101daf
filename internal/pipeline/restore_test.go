package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenh/backupd/internal/model"
)

func TestRestoreRequest_ValidatePhrase(t *testing.T) {
	tests := []struct {
		name         string
		verification bool
		phrase       string
		wantErr      bool
	}{
		{"restore phrase", false, PhraseRestore, false},
		{"verification phrase", true, PhraseVerification, false},
		{"empty", false, "", true},
		{"wrong phrase", false, "RESTORE", true},
		{"lowercase rejected", false, "restaurar", true},
		{"restore phrase on verification", true, PhraseRestore, true},
		{"verification phrase on restore", false, PhraseVerification, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := RestoreRequest{
				VerificationMode:   tt.verification,
				ConfirmationPhrase: tt.phrase,
			}
			err := req.ValidatePhrase()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConfirmation)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestVerificationName(t *testing.T) {
	name := verificationName(model.Datasource{DatabaseName: "Orders-Prod"})
	assert.True(t, strings.HasPrefix(name, "verify_orders_prod_"), name)
	// Only identifier-safe characters survive.
	for _, r := range name {
		safe := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
		assert.True(t, safe, "unsafe rune %q in %s", r, name)
	}
}

func TestVerificationName_Unique(t *testing.T) {
	ds := model.Datasource{DatabaseName: "orders"}
	assert.NotEqual(t, verificationName(ds), verificationName(ds))
}

func TestVerificationName_EmptyDatabase(t *testing.T) {
	name := verificationName(model.Datasource{})
	assert.True(t, strings.HasPrefix(name, "verify_data_"), name)
}
