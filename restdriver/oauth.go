package restdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"polisflow/driver"
	"polisflow/tokencache"
	"polisflow/transport"
)

// bearer returns the Authorization header for the next carrier call, going
// through the token cache.
func (d *Driver) bearer(ctx context.Context) (map[string]string, error) {
	key := tokencache.Key(d.cfg.TokenURL, d.cfg.ClientID, d.cfg.ClientSecret)
	token, err := d.deps.Tokens.Get(ctx, key, d.fetchToken)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// fetchToken performs the OAuth2 client-credentials exchange.
func (d *Driver) fetchToken(ctx context.Context) (tokencache.Token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {d.cfg.ClientID},
		"client_secret": {d.cfg.ClientSecret},
	}

	body, err := d.deps.Client.PostForm(ctx, "fetchToken", d.cfg.TokenURL, nil, form)
	if err != nil {
		d.deps.Metrics.ObserveTokenFetch(d.cfg.Code, "error")
		return tokencache.Token{}, driver.Transport("fetchToken", err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := decodeJSON(body, &resp); err != nil {
		d.deps.Metrics.ObserveTokenFetch(d.cfg.Code, "error")
		return tokencache.Token{}, driver.Transport("fetchToken", err)
	}
	if resp.AccessToken == "" {
		d.deps.Metrics.ObserveTokenFetch(d.cfg.Code, "error")
		return tokencache.Token{}, driver.Transport("fetchToken", errors.New("token endpoint returned no access_token"))
	}

	d.deps.Metrics.ObserveTokenFetch(d.cfg.Code, "ok")
	return tokencache.Token{
		Value:     resp.AccessToken,
		ExpiresIn: time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode carrier response: %w", err)
	}
	return nil
}

func asTransport(err error) (*transport.Error, bool) {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr, true
	}
	return nil, false
}
