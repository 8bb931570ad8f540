package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"

	"insurance-bot/internal/registration"
)

const mimePDF = "application/pdf"

// Text reads "Key: Value" lines from text-bearing uploads (PDF or plain text).
// Photos carry no text layer and are reported as unavailable.
type Text struct{}

func (Text) ExtractFields(ctx context.Context, raw []byte, kind registration.DocumentKind) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mime := normalizeMimeType(http.DetectContentType(raw))

	var text string
	switch {
	case mime == mimePDF:
		extracted, err := extractPDF(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: pdf: %v", ErrUnavailable, err)
		}
		text = extracted
	case strings.HasPrefix(mime, "text/"):
		text = string(raw)
	default:
		return nil, fmt.Errorf("%w: unsupported mime type: %s", ErrUnavailable, mime)
	}

	fields := parseFields(text, kind)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no %s fields found", ErrUnavailable, kind)
	}
	return fields, nil
}

func extractPDF(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// parseFields keeps only the fields known for kind, matching keys loosely
// ("Passport Number", "passport_number" and "PassportNumber" are the same).
func parseFields(text string, kind registration.DocumentKind) map[string]string {
	wanted := make(map[string]string)
	for _, name := range knownFields[kind] {
		wanted[normalizeKey(name)] = name
	}

	out := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		name, known := wanted[normalizeKey(key)]
		value = strings.TrimSpace(value)
		if !known || value == "" {
			continue
		}
		if _, seen := out[name]; !seen {
			out[name] = value
		}
	}
	return out
}

func normalizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeMimeType(mimeType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
}
