// Package sigv4 implements AWS Signature Version 4 for the execute-api
// service, the generalization of the HMAC-over-canonical-string signing
// order_client.go used to authenticate CLOB order submissions — here
// widened into the full SigV4 canonical-request, string-to-sign, and
// chained-key derivation algorithm.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	algorithm    = "AWS4-HMAC-SHA256"
	terminator   = "aws4_request"
	amzDateLayout = "20060102T150405Z"
	dateLayout    = "20060102"
)

// Credentials are the long-lived AWS access key pair used to sign.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Signer signs requests for a fixed region/service pair.
type Signer struct {
	Region  string
	Service string
}

// New constructs a Signer for region/service (typically "execute-api").
func New(region, service string) *Signer {
	return &Signer{Region: region, Service: service}
}

// Sign computes the SigV4 headers for the given request components and
// returns a new header map containing the originals plus host,
// x-amz-date, x-amz-content-sha256, and Authorization. now is injected so
// signing is deterministic in tests.
func (s *Signer) Sign(creds Credentials, method, rawURL string, headers map[string]string, query url.Values, body []byte, now time.Time) (map[string]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	amzDate := now.UTC().Format(amzDateLayout)
	date := now.UTC().Format(dateLayout)
	payloadHash := hashHex(body)

	signed := make(map[string]string, len(headers)+3)
	for k, v := range headers {
		signed[k] = v
	}
	signed["host"] = u.Host
	signed["x-amz-date"] = amzDate
	signed["x-amz-content-sha256"] = payloadHash

	canonicalHeaders, signedHeaderNames := canonicalizeHeaders(signed)
	canonicalQuery := canonicalizeQuery(query)
	canonicalURI := u.EscapedPath()
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	canonicalRequest := strings.Join([]string{
		strings.ToUpper(method),
		canonicalURI,
		canonicalQuery,
		canonicalHeaders,
		signedHeaderNames,
		payloadHash,
	}, "\n")

	credentialScope := strings.Join([]string{date, s.Region, s.Service, terminator}, "/")
	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		credentialScope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(creds.SecretAccessKey, date, s.Region, s.Service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	signed["Authorization"] = algorithm + " Credential=" + creds.AccessKeyID + "/" + credentialScope +
		", SignedHeaders=" + signedHeaderNames + ", Signature=" + signature

	return signed, nil
}

func deriveSigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, terminator)
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func hashHex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_.~"

func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(unreserved, c) >= 0 {
			b.WriteByte(c)
		} else {
			b.WriteString("%")
			b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}

func canonicalizeQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(query))
	for k, values := range query {
		for _, v := range values {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

func canonicalizeHeaders(headers map[string]string) (canonical string, signedNames string) {
	names := make([]string, 0, len(headers))
	lower := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		lower[lk] = collapseWhitespace(v)
		names = append(names, lk)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteString(":")
		b.WriteString(lower[name])
		b.WriteString("\n")
	}
	return b.String(), strings.Join(names, ";")
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	return strings.Join(fields, " ")
}
