package extract

import (
	"context"
	"fmt"

	"insurance-bot/internal/registration"
)

// Simulated returns fixed sample values, used when no real OCR backend is wired.
type Simulated struct{}

func (Simulated) ExtractFields(ctx context.Context, _ []byte, kind registration.DocumentKind) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch kind {
	case registration.KindPassport:
		return map[string]string{
			"FullName":       "John Doe",
			"PassportNumber": "P1234567",
			"Nationality":    "USA",
		}, nil
	case registration.KindVehicleRegistration:
		return map[string]string{
			"VIN":   "1HGBH41JXMN109186",
			"Make":  "Hundai",
			"Model": "Santa FE",
			"Year":  "2025",
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown document kind %q", ErrUnavailable, kind)
	}
}
