package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"roomwatch-backend/config"
)

// ErrUndecodedInference is returned when the camera only delivers the raw
// binary detection payload instead of decoded detections.
var ErrUndecodedInference = errors.New("inference result contains no decoded detections")

const tokenKey = "access_token"

// tokenResponse models the OAuth client-credentials response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// inferenceResponse models the console's latest-inference response.
type inferenceResponse struct {
	Data []struct {
		InferenceResult struct {
			Inferences []map[string]json.RawMessage `json:"Inferences"`
		} `json:"inference_result"`
	} `json:"data"`
}

// detection is one decoded object: class id and confidence score.
type detection struct {
	C int     `json:"C"`
	P float64 `json:"P"`
}

// Camera reads people counts from an AI camera's cloud console. One camera
// serves the whole deployment, so every room reads the same device.
type Camera struct {
	cfg    config.CameraConfig
	client *http.Client
	tokens *cache.Cache
}

// NewCamera creates a camera provider.
func NewCamera(cfg config.CameraConfig) (*Camera, error) {
	if cfg.URL == "" || cfg.DeviceID == "" {
		return nil, fmt.Errorf("camera sensor needs url and device_id")
	}

	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Camera sensor will not use a proxy.", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Camera{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		tokens: cache.New(cache.NoExpiration, 10*time.Minute),
	}, nil
}

// PeopleCount fetches the latest inference and sums the scores of detections
// of the person class.
func (c *Camera) PeopleCount(ctx context.Context, _ string) (int, error) {
	token, err := c.token(ctx)
	if err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/inferenceresults/devices/%s?limit=1&scope=full",
		strings.TrimRight(c.cfg.URL, "/"), url.PathEscape(c.cfg.DeviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Delete(tokenKey)
		return 0, fmt.Errorf("camera console rejected the access token")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}
	var inf inferenceResponse
	if err := json.Unmarshal(body, &inf); err != nil {
		return 0, fmt.Errorf("failed to unmarshal inference response: %w", err)
	}
	if len(inf.Data) == 0 || len(inf.Data[0].InferenceResult.Inferences) == 0 {
		return 0, nil
	}
	return countPeople(inf.Data[0].InferenceResult.Inferences[0], c.cfg.PersonClass)
}

// countPeople sums detection scores of the given class and rounds the total.
func countPeople(result map[string]json.RawMessage, personClass int) (int, error) {
	var total float64
	var decoded int
	for key, raw := range result {
		if _, err := strconv.Atoi(key); err != nil {
			continue
		}
		var d detection
		if err := json.Unmarshal(raw, &d); err != nil {
			return 0, fmt.Errorf("failed to decode detection %s: %w", key, err)
		}
		decoded++
		if d.C == personClass {
			total += d.P
		}
	}
	if _, raw := result["O"]; raw && decoded == 0 {
		return 0, ErrUndecodedInference
	}
	return int(math.Round(total)), nil
}

// token returns a cached access token or fetches a new one. Without a token
// endpoint the console is called unauthenticated.
func (c *Camera) token(ctx context.Context) (string, error) {
	if c.cfg.TokenURL == "" {
		return "", nil
	}
	if v, ok := c.tokens.Get(tokenKey); ok {
		return v.(string), nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "system")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response has no access_token")
	}

	// Refresh a little before the console expires the token.
	ttl := time.Duration(tr.ExpiresIn)*time.Second - 30*time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c.tokens.Set(tokenKey, tr.AccessToken, ttl)
	return tr.AccessToken, nil
}
