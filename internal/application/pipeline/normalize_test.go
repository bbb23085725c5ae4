package pipeline

import (
	"testing"
	"time"

	"github.com/recallbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalKey(t *testing.T) {
	cases := map[string]string{
		"https://WWW.FDA.gov/safety/recalls/acme/":      "https://www.fda.gov/safety/recalls/acme",
		"https://www.fda.gov:443/safety/recalls/acme#x": "https://www.fda.gov/safety/recalls/acme",
		"http://example.com:8080/a?b=1":                 "http://example.com:8080/a?b=1",
		" https://example.com/ ":                        "https://example.com/",
	}
	for in, want := range cases {
		got, err := CanonicalKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestCanonicalKey_Rejects(t *testing.T) {
	for _, in := range []string{"", "/safety/recalls/acme", "not a url"} {
		_, err := CanonicalKey(in)
		assert.ErrorIs(t, err, domain.ErrBadRequest, in)
	}
}

func TestNormalize(t *testing.T) {
	d := time.Date(2025, 3, 4, 10, 0, 0, 500, time.FixedZone("EST", -5*3600))
	got, err := Normalize(domain.Candidate{
		NaturalKey: "https://www.fda.gov/x",
		LinkText:   " Acme &amp; Co\n recalls ",
		Product:    "Peanut &amp;amp; Butter",
		Date:       &d,
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme & Co recalls", got.LinkText)
	assert.Equal(t, "Peanut & Butter", got.Product)
	require.NotNil(t, got.Date)
	assert.Equal(t, time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC), *got.Date)
}

func TestNormalize_RequiresProduct(t *testing.T) {
	_, err := Normalize(domain.Candidate{NaturalKey: "https://www.fda.gov/x", Product: "  "})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestNormalizeAll_DedupesAndSkipsInvalid(t *testing.T) {
	got, rejected := NormalizeAll([]domain.Candidate{
		{NaturalKey: "https://www.fda.gov/a", Product: "first"},
		{NaturalKey: "https://WWW.fda.gov/a/", Product: "second"},
		{NaturalKey: "", Product: "broken"},
		{NaturalKey: "https://www.fda.gov/b", Product: "third"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Product)
	assert.Equal(t, "third", got[1].Product)
	assert.Len(t, rejected, 1)
}
