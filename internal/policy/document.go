package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"insurance-bot/internal/registration"
)

const (
	wrapWidth   = 80
	lineSpacing = 22
	leftMargin  = 50
	topMargin   = 70
)

// Document is the content printed on an issued policy.
type Document struct {
	PolicyNumber string
	Holder       string
	VIN          string
	Vehicle      string
	ExpiresAt    time.Time
	Narrative    string
}

// Renderer turns a policy document into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, d Document) ([]byte, error)
}

// FromPolicy fills a Document from an issued policy and the extracted fields
// of the user's documents.
func FromPolicy(p registration.Policy, fields map[string]string, narrative string) Document {
	vehicle := strings.TrimSpace(strings.Join([]string{fields["Make"], fields["Model"], fields["Year"]}, " "))
	return Document{
		PolicyNumber: p.PolicyNumber,
		Holder:       valueOr(fields["FullName"], "Policy Holder"),
		VIN:          valueOr(fields["VIN"], "N/A"),
		Vehicle:      vehicle,
		ExpiresAt:    p.ExpiresAt,
		Narrative:    narrative,
	}
}

// Lines returns the text lines of the policy in print order.
func (d Document) Lines() []string {
	lines := []string{
		fmt.Sprintf("Policy Number: %s", d.PolicyNumber),
		fmt.Sprintf("Policy Holder: %s", d.Holder),
		fmt.Sprintf("Vehicle VIN: %s", d.VIN),
	}
	if d.Vehicle != "" {
		lines = append(lines, fmt.Sprintf("Vehicle: %s", d.Vehicle))
	}
	lines = append(lines,
		fmt.Sprintf("Price Paid: %d USD", registration.PolicyPriceUSD),
		fmt.Sprintf("Valid Until: %s", d.ExpiresAt.UTC().Format("2006-01-02")),
	)
	if n := strings.TrimSpace(d.Narrative); n != "" {
		lines = append(lines, "")
		lines = append(lines, wrap(n, wrapWidth)...)
	}
	lines = append(lines, "", "This is a dummy policy for demo purposes only.")
	return lines
}

type fontSpec struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type textSpec struct {
	Value string   `json:"value"`
	Pos   []int    `json:"pos"`
	Font  fontSpec `json:"font"`
}

type pageSpec struct {
	Content struct {
		Text []textSpec `json:"text"`
	} `json:"content"`
}

type docSpec struct {
	Paper  string              `json:"paper"`
	Origin string              `json:"origin"`
	Pages  map[string]pageSpec `json:"pages"`
}

// PageSpec builds the pdfcpu JSON description of a one page policy.
func PageSpec(d Document) ([]byte, error) {
	var page pageSpec
	page.Content.Text = append(page.Content.Text, textSpec{
		Value: "FastCar Insurance",
		Pos:   []int{leftMargin, topMargin},
		Font:  fontSpec{Name: "Helvetica-Bold", Size: 24},
	})
	y := topMargin + 2*lineSpacing
	for _, line := range d.Lines() {
		if line != "" {
			page.Content.Text = append(page.Content.Text, textSpec{
				Value: line,
				Pos:   []int{leftMargin, y},
				Font:  fontSpec{Name: "Helvetica", Size: 12},
			})
		}
		y += lineSpacing
	}
	spec := docSpec{
		Paper:  "A4P",
		Origin: "UpperLeft",
		Pages:  map[string]pageSpec{"1": page},
	}
	return json.Marshal(spec)
}

// PDFRenderer renders policies with pdfcpu.
type PDFRenderer struct{}

func (PDFRenderer) Render(ctx context.Context, d Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec, err := PageSpec(d)
	if err != nil {
		return nil, fmt.Errorf("build policy page spec: %w", err)
	}
	conf := model.NewDefaultConfiguration()
	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(spec), &buf, conf); err != nil {
		return nil, fmt.Errorf("render policy pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName is the attachment name used when sending a policy.
func FileName(policyNumber string) string {
	return fmt.Sprintf("policy_%s.pdf", policyNumber)
}

func wrap(text string, width int) []string {
	words := strings.Fields(text)
	var (
		lines []string
		cur   strings.Builder
	)
	for _, w := range words {
		if cur.Len() > 0 && cur.Len()+1+len(w) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

var _ Renderer = PDFRenderer{}
