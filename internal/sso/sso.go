// Package sso exchanges one-time SSO tokens with the external identity
// provider's validate endpoint.
package sso

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

var (
	// ErrUnreachable is returned on network or timeout failures.
	ErrUnreachable = errors.New("sso provider unreachable")
	// ErrRejected is returned when the provider reports the token invalid.
	ErrRejected = errors.New("sso token rejected")
	// ErrMalformedResponse is returned when the provider payload cannot be
	// parsed into the expected identity fields.
	ErrMalformedResponse = errors.New("malformed sso provider response")
)

// Identity is the verified identity returned by the provider.
type Identity struct {
	UserID     string
	UserName   string
	APIKey     string
	Credit     float64
	TokenCount int64
	Role       string
}

// Client performs the server-to-server SSO token exchange.
type Client struct {
	httpClient  *http.Client
	validateURL string
}

// NewClient constructs a Client for the given validate endpoint with a
// bounded request timeout.
func NewClient(validateURL string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		validateURL: validateURL,
	}
}

// Exchange presents a one-time SSO token to the provider and returns the
// identity it vouches for. The call is never retried: tokens are
// single-use by provider contract, so a retry could only fail.
func (c *Client) Exchange(ctx context.Context, ssoToken string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.validateURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Authorization", "Bearer "+ssoToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var envelope providerPayload
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	identity := envelope.identity()
	if identity.UserID == "" {
		return Identity{}, fmt.Errorf("%w: missing user id", ErrMalformedResponse)
	}
	return identity, nil
}

// The provider wraps its payload inconsistently: fields may sit at the top
// level, under "data", under "user_info", or under "balance". Resolution
// order follows the provider's documented precedence.
type providerPayload struct {
	Data     *providerPayload `json:"data"`
	UserInfo *providerUser    `json:"user_info"`
	Balance  *providerBalance `json:"balance"`
	APIKey   string           `json:"api_key"`
	Credit   *float64         `json:"credit"`
	Token    *int64           `json:"token"`
}

type providerUser struct {
	UserID   flexString `json:"user_id"`
	ID       flexString `json:"id"`
	UserName string     `json:"user_name"`
	Name     string     `json:"name"`
	Role     string     `json:"role"`
	APIKey   string     `json:"api_key"`
}

type providerBalance struct {
	Credit *float64 `json:"credit"`
	Token  *int64   `json:"token"`
}

func (p *providerPayload) identity() Identity {
	data := p
	if p.Data != nil {
		data = p.Data
	}

	user := data.UserInfo
	if user == nil {
		user = &providerUser{}
	}

	identity := Identity{
		UserID:   strings.TrimSpace(string(user.UserID)),
		UserName: user.UserName,
		APIKey:   data.APIKey,
		Role:     user.Role,
	}
	if identity.UserID == "" {
		identity.UserID = strings.TrimSpace(string(user.ID))
	}
	if identity.UserName == "" {
		identity.UserName = user.Name
	}
	if identity.APIKey == "" {
		identity.APIKey = user.APIKey
	}
	if identity.Role == "" {
		identity.Role = "user"
	}

	switch {
	case data.Balance != nil && data.Balance.Credit != nil:
		identity.Credit = *data.Balance.Credit
	case data.Credit != nil:
		identity.Credit = *data.Credit
	}
	switch {
	case data.Balance != nil && data.Balance.Token != nil:
		identity.TokenCount = *data.Balance.Token
	case data.Token != nil:
		identity.TokenCount = *data.Token
	}
	return identity
}

// flexString accepts both string and numeric JSON values, since the
// provider emits numeric ids for some account types.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
