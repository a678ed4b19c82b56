package respcache

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestFingerprint_DocumentRoutesIgnoreQuery(t *testing.T) {
	a := Fingerprint("GET", mustParse(t, "http://example.com/restaurant.html?id=3"))
	b := Fingerprint("GET", mustParse(t, "http://example.com/restaurant.html?id=7"))
	assert.Equal(t, a, b, "document routes share one entry across query strings")

	c := Fingerprint("GET", mustParse(t, "http://example.com/reviews?restaurant_id=3"))
	d := Fingerprint("GET", mustParse(t, "http://example.com/reviews"))
	assert.Equal(t, c, d, "extensionless paths are route-like")
}

func TestFingerprint_AssetsKeepCanonicalQuery(t *testing.T) {
	a := Fingerprint("GET", mustParse(t, "http://example.com/img/1.jpg?w=200&h=100"))
	b := Fingerprint("GET", mustParse(t, "http://example.com/img/1.jpg?h=100&w=200"))
	c := Fingerprint("GET", mustParse(t, "http://example.com/img/1.jpg?w=400"))

	assert.Equal(t, a, b, "query parameter order does not fork entries")
	assert.NotEqual(t, a, c, "different asset variants stay distinct")
}

func TestFingerprint_MethodAndPathNormalization(t *testing.T) {
	get := Fingerprint("get", mustParse(t, "http://example.com/css/styles.css"))
	upper := Fingerprint("GET", mustParse(t, "http://example.com/css/styles.css"))
	assert.Equal(t, upper, get)

	head := Fingerprint("HEAD", mustParse(t, "http://example.com/css/styles.css"))
	assert.NotEqual(t, get, head)

	// Composed vs decomposed spellings collapse to one entry.
	composed := Fingerprint("GET", mustParse(t, "http://example.com/café"))
	decomposed := Fingerprint("GET", mustParse(t, "http://example.com/café"))
	assert.Equal(t, composed, decomposed)
}
