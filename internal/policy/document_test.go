package policy

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insurance-bot/internal/registration"
)

func sampleDocument() Document {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := registration.NewPolicy("u1", "", issued)
	fields := map[string]string{
		"FullName": "John Doe",
		"VIN":      "1HGBH41JXMN109186",
		"Make":     "Hundai",
		"Model":    "Santa FE",
		"Year":     "2025",
	}
	return FromPolicy(p, fields, "Thank you for choosing FastCar. Your Hundai is covered for the next seven days.")
}

func TestLinesCarryPolicyTerms(t *testing.T) {
	lines := strings.Join(sampleDocument().Lines(), "\n")
	assert.Contains(t, lines, "Policy Holder: John Doe")
	assert.Contains(t, lines, "Vehicle VIN: 1HGBH41JXMN109186")
	assert.Contains(t, lines, "Vehicle: Hundai Santa FE 2025")
	assert.Contains(t, lines, "Price Paid: 100 USD")
	assert.Contains(t, lines, "Valid Until: 2025-06-08")
	assert.Contains(t, lines, "covered for the next seven days.")
}

func TestFromPolicyDefaultsMissingFields(t *testing.T) {
	d := FromPolicy(registration.Policy{PolicyNumber: "ABC"}, nil, "")
	assert.Equal(t, "Policy Holder", d.Holder)
	assert.Equal(t, "N/A", d.VIN)
	assert.Empty(t, d.Vehicle)
}

func TestPageSpecIsSinglePageJSON(t *testing.T) {
	raw, err := PageSpec(sampleDocument())
	require.NoError(t, err)

	var spec docSpec
	require.NoError(t, json.Unmarshal(raw, &spec))
	assert.Equal(t, "A4P", spec.Paper)
	require.Contains(t, spec.Pages, "1")
	texts := spec.Pages["1"].Content.Text
	require.NotEmpty(t, texts)
	assert.Equal(t, "FastCar Insurance", texts[0].Value)
	for i := 1; i < len(texts); i++ {
		assert.Greater(t, texts[i].Pos[1], texts[i-1].Pos[1])
	}
}

func TestWrap(t *testing.T) {
	lines := wrap("one two three four five", 9)
	assert.Equal(t, []string{"one two", "three", "four five"}, lines)
	assert.Nil(t, wrap("   ", 10))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "policy_ABC123.pdf", FileName("ABC123"))
}
