package handlers

import (
	"strings"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const maxSessionIDLength = 128

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("session_id", validateSessionID)
	}
}

// validateSessionID accepts opaque client session ids: 1-128 printable
// characters without whitespace.
func validateSessionID(fl validator.FieldLevel) bool {
	return validSessionID(fl.Field().String())
}

func validSessionID(sessionID string) bool {
	if sessionID == "" || len(sessionID) > maxSessionIDLength {
		return false
	}
	return strings.IndexFunc(sessionID, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}) < 0
}
