package extract

import (
	"context"
	"errors"

	"insurance-bot/internal/registration"
)

// ErrUnavailable means the extractor could not read fields from the input.
// Callers treat it as non-fatal.
var ErrUnavailable = errors.New("field extraction unavailable")

// Extractor reads named fields out of an uploaded document.
type Extractor interface {
	ExtractFields(ctx context.Context, raw []byte, kind registration.DocumentKind) (map[string]string, error)
}

// Field names produced for each document kind.
var knownFields = map[registration.DocumentKind][]string{
	registration.KindPassport:            {"FullName", "PassportNumber", "Nationality"},
	registration.KindVehicleRegistration: {"VIN", "Make", "Model", "Year"},
}

// FieldOrder returns the display order of fields for kind.
func FieldOrder(kind registration.DocumentKind) []string {
	return append([]string(nil), knownFields[kind]...)
}
