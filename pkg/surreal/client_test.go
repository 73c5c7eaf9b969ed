package surreal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Accessing private function for testing
func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid simple", "memories", false},
		{"Valid with underscore", "user_id", false},
		{"Valid with numbers", "field1", false},
		{"Valid with mixed case", "UserId", false},
		{"Invalid space", "user id", true},
		{"Invalid semicolon", "user;id", true},
		{"Invalid dash", "user-id", true},
		{"Invalid special char", "user$", true},
		{"Invalid SQL injection", "memories; DROP TABLE memories", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateIdentifier(tt.input)
			if tt.wantErr {
				assert.Error(t, err, "Expected error for input: %s", tt.input)
			} else {
				assert.NoError(t, err, "Expected no error for input: %s", tt.input)
			}
		})
	}
}

func TestValidateIdentifierExported(t *testing.T) {
	assert.NoError(t, ValidateIdentifier("chat_settings"))
	assert.Error(t, ValidateIdentifier("chat settings"))
}
