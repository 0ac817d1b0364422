package embedding

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
)

// BedrockEmbedder calls Amazon Bedrock's Titan embeddings model over raw
// HTTP with a hand-rolled SigV4 signature, rather than pulling in the full
// AWS SDK (DESIGN.md: no other component needs the SDK's broader surface,
// and Bedrock's runtime API is two JSON endpoints wide). Chat/ChatJSON are
// unsupported: Titan embeddings models have no chat completion.
type BedrockEmbedder struct {
	httpClient      *http.Client
	region          string
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
	model           string
}

// NewBedrockEmbedder builds an adapter for the given region and Titan model
// id ("amazon.titan-embed-text-v2:0" default).
func NewBedrockEmbedder(region, accessKeyID, secretAccessKey, sessionToken, model string) *BedrockEmbedder {
	if model == "" {
		model = "amazon.titan-embed-text-v2:0"
	}
	return &BedrockEmbedder{
		httpClient:      http.DefaultClient,
		region:          region,
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		sessionToken:    sessionToken,
		model:           model,
	}
}

func (e *BedrockEmbedder) Name() string { return "bedrock:" + e.model }

func (e *BedrockEmbedder) Chat(context.Context, string) (string, error) {
	return "", ErrNotSupported
}

func (e *BedrockEmbedder) ChatJSON(context.Context, string) (string, error) {
	return "", ErrNotSupported
}

func (e *BedrockEmbedder) Embed(ctx context.Context, text string, _ string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{"inputText": text})
	if err != nil {
		return nil, errs.Wrap(err, "marshal bedrock request")
	}
	path := fmt.Sprintf("/model/%s/invoke", e.model)
	respBody, err := e.invoke(ctx, path, body)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errs.Wrap(err, "decode bedrock response")
	}
	if len(parsed.Embedding) == 0 {
		return nil, ErrNotSupported
	}
	return parsed.Embedding, nil
}

// EmbedBatch has no native batch endpoint on Titan, so each text is invoked
// independently and the short-circuit failover above absorbs the latency
// cost for callers that need batching.
func (e *BedrockEmbedder) EmbedBatch(ctx context.Context, texts []string, sector string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := e.Embed(ctx, t, sector)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *BedrockEmbedder) invoke(ctx context.Context, path string, body []byte) ([]byte, error) {
	host := fmt.Sprintf("bedrock-runtime.%s.amazonaws.com", e.region)
	url := "https://" + host + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(err, "build bedrock request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	e.sign(req, body, host)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewProviderError(e.model, 0, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(err, "read bedrock response")
	}
	if resp.StatusCode >= 300 {
		return nil, errs.NewProviderError(e.model, resp.StatusCode, fmt.Errorf("bedrock: %s", string(respBody)))
	}
	return respBody, nil
}

// sign implements AWS SigV4 for the "bedrock" service, following the
// canonical-request/string-to-sign/signing-key recipe AWS documents.
func (e *BedrockEmbedder) sign(req *http.Request, body []byte, host string) {
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("Host", host)
	if e.sessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", e.sessionToken)
	}

	payloadHash := sha256Hex(body)
	signedHeaders := "content-type;host;x-amz-date"
	if e.sessionToken != "" {
		signedHeaders = "content-type;host;x-amz-date;x-amz-security-token"
	}

	canonicalHeaders := fmt.Sprintf("content-type:%s\nhost:%s\nx-amz-date:%s\n",
		req.Header.Get("Content-Type"), host, amzDate)
	if e.sessionToken != "" {
		canonicalHeaders += fmt.Sprintf("x-amz-security-token:%s\n", e.sessionToken)
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		req.URL.Path,
		"",
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := fmt.Sprintf("%s/%s/bedrock/aws4_request", dateStamp, e.region)
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(e.secretAccessKey, dateStamp, e.region, "bedrock")
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	auth := fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		e.accessKeyID, scope, signedHeaders, signature)
	req.Header.Set("Authorization", auth)
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func deriveSigningKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}
