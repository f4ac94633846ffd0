package validations

import (
	"context"
	"strings"
	"testing"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	pkgError "github.com/AzielCF/az-medchat/pkg/error"
	"github.com/stretchr/testify/assert"
)

func TestValidateChatRequest(t *testing.T) {
	tests := []struct {
		name    string
		request domain.ChatRequest
		wantErr bool
	}{
		{
			name:    "valid request",
			request: domain.ChatRequest{OwnerID: "user-1", Message: "Tengo dolor de cabeza", Specialty: domain.SpecialtyNeurology},
		},
		{
			name:    "empty specialty is accepted",
			request: domain.ChatRequest{OwnerID: "user-1", Message: "hello"},
		},
		{
			name:    "missing owner",
			request: domain.ChatRequest{Message: "hello"},
			wantErr: true,
		},
		{
			name:    "blank message",
			request: domain.ChatRequest{OwnerID: "user-1", Message: "   "},
			wantErr: true,
		},
		{
			name:    "message too long",
			request: domain.ChatRequest{OwnerID: "user-1", Message: strings.Repeat("a", maxMessageLength+1)},
			wantErr: true,
		},
		{
			name:    "unknown specialty",
			request: domain.ChatRequest{OwnerID: "user-1", Message: "hello", Specialty: "astrology"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatRequest(context.Background(), tt.request)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var vErr pkgError.ValidationError
			assert.ErrorAs(t, err, &vErr)
			assert.Equal(t, "VALIDATION_ERROR", vErr.ErrCode())
		})
	}
}
