package validations

import (
	"context"
	"strings"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	pkgError "github.com/AzielCF/az-medchat/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const maxMessageLength = 8000

func specialtyValues() []interface{} {
	values := make([]interface{}, 0, len(domain.Specialties))
	for _, s := range domain.Specialties {
		values = append(values, s)
	}
	return values
}

// ValidateChatRequest checks a user turn before it touches the context.
// An empty specialty is accepted and later treated as general.
func ValidateChatRequest(ctx context.Context, request domain.ChatRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.OwnerID, validation.Required, validation.Length(1, 128)),
		validation.Field(&request.Message,
			validation.By(func(value interface{}) error {
				if strings.TrimSpace(value.(string)) == "" {
					return validation.ErrRequired
				}
				return nil
			}),
			validation.RuneLength(1, maxMessageLength),
		),
		validation.Field(&request.Specialty, validation.In(specialtyValues()...)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
