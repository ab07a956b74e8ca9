package sigv4

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignProducesExpectedHeaderShape(t *testing.T) {
	t.Parallel()

	s := New("us-west-2", "execute-api")
	creds := Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	headers, err := s.Sign(creds, "GET",
		"https://sellingpartnerapi-fe.amazon.com/products/pricing/v0/competitivePrice",
		map[string]string{"x-amz-access-token": "tok-123"},
		url.Values{"MarketplaceId": []string{"A1VC38T7YXB528"}},
		nil, now)
	require.NoError(t, err)

	require.Equal(t, "sellingpartnerapi-fe.amazon.com", headers["host"])
	require.Equal(t, "20260730T120000Z", headers["x-amz-date"])
	require.Equal(t, hashHex(nil), headers["x-amz-content-sha256"])
	require.Contains(t, headers["Authorization"], "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20260730/us-west-2/execute-api/aws4_request")
	require.Contains(t, headers["Authorization"], "SignedHeaders=")
	require.Contains(t, headers["Authorization"], "Signature=")
}

func TestSignIsDeterministic(t *testing.T) {
	t.Parallel()

	s := New("us-east-1", "execute-api")
	creds := Credentials{AccessKeyID: "AKID", SecretAccessKey: "secret"}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	h1, err := s.Sign(creds, "POST", "https://example.com/path", nil, nil, []byte(`{"a":1}`), now)
	require.NoError(t, err)
	h2, err := s.Sign(creds, "POST", "https://example.com/path", nil, nil, []byte(`{"a":1}`), now)
	require.NoError(t, err)

	require.Equal(t, h1["Authorization"], h2["Authorization"])
}

func TestCanonicalizeQuerySortsAndEncodes(t *testing.T) {
	t.Parallel()

	q := url.Values{"b": []string{"2"}, "a": []string{"1", "0"}}
	got := canonicalizeQuery(q)
	require.Equal(t, "a=0&a=1&b=2", got)
}

func TestPercentEncodeUnreservedSet(t *testing.T) {
	t.Parallel()
	require.Equal(t, "A1VC38T7YXB528", percentEncode("A1VC38T7YXB528"))
	require.Equal(t, "a%3Ab", percentEncode("a:b"))
}
