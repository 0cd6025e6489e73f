package binanceclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"smartTradeBot/internal/ports"
)

const (
	accountEndpoint = "/fapi/v2/account"
	apiKeyHeader    = "X-MBX-APIKEY"
	recvWindowMs    = 5000
)

// Signer produces HMAC-SHA256 signed query strings for private endpoints.
type Signer struct {
	apiKey    string
	secretKey string
}

// NewSigner returns a signer for the given key pair.
func NewSigner(apiKey, secretKey string) *Signer {
	return &Signer{apiKey: apiKey, secretKey: secretKey}
}

// SignQuery signs params with the signer's secret.
func (s *Signer) SignQuery(params url.Values, now time.Time) string {
	return SignQuery(params, s.secretKey, now)
}

// SignQuery adds timestamp and recvWindow to params and returns the encoded
// query (keys sorted, joined by &) with the signature appended last.
func SignQuery(params url.Values, secret string, now time.Time) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindowMs))
	query := params.Encode()
	return query + "&signature=" + sign(query, secret)
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// CheckCredentials performs a signed account request so bad keys surface
// during setup instead of on the first order.
func (c *Client) CheckCredentials(ctx context.Context) error {
	op := "CheckCredentials"
	if c.signer.apiKey == "" || c.signer.secretKey == "" {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrSetupFailed, ports.ErrInvalidAPIKeys)
	}

	endpoint := c.futuresClient.BaseURL + accountEndpoint + "?" + c.signer.SignQuery(nil, time.Now())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s failed to build request: %w: %w", op, ports.ErrSetupFailed, err)
	}
	req.Header.Set(apiKeyHeader, c.signer.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.handleError(ctx, err, op, ports.ErrSetupFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Debug(ctx, op+" successful")
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiErrorBody
	_ = json.Unmarshal(body, &apiErr)

	var mapped error
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		mapped = ports.ErrAuthenticationFailed
	case http.StatusTooManyRequests, http.StatusTeapot:
		mapped = ports.ErrRateLimited
	default:
		if apiErr.Code == -2014 || apiErr.Code == -2015 || apiErr.Code == -1022 {
			mapped = ports.ErrAuthenticationFailed
		} else {
			mapped = ports.ErrExchangeUnavailable
		}
	}
	err = fmt.Errorf("%s failed: %w: %w: status %d code %d: %s", op, ports.ErrSetupFailed, mapped, resp.StatusCode, apiErr.Code, apiErr.Msg)
	c.logger.Error(ctx, err, op+" rejected", map[string]interface{}{"status": resp.StatusCode, "apiErrorCode": apiErr.Code})
	return err
}
