package handlers

import (
	"errors"

	"github.com/wolfman30/aliado-ai-platform/internal/channels/whatsapp"
)

func isValidation(err error) bool {
	var ve *whatsapp.ValidationError
	return errors.As(err, &ve)
}
