package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"

	"github.com/ucpcloud/consoled/pkg/config"
	"github.com/ucpcloud/consoled/pkg/utils"
)

const (
	checkSessionURL = "/api/health"

	sessionMinConnectInterval = 5 * time.Second
	sessionMaxConnectInterval = 300 * time.Second
)

// Session is the authenticated HTTP session to the panel API.
type Session struct {
	BaseURL       string
	Client        *http.Client
	authorization string
}

func InitSession() *Session {
	return &Session{
		BaseURL:       config.GlobalSettings.PanelURL,
		Client:        utils.NewHTTPClient(),
		authorization: fmt.Sprintf(`id="%s", key="%s"`, config.GlobalSettings.ID, config.GlobalSettings.Key),
	}
}

// CheckSession blocks until the panel API is reachable, backing off
// exponentially between attempts.
func (s *Session) CheckSession(ctx context.Context) bool {
	sessionBackoff := backoff.NewExponentialBackOff()
	sessionBackoff.InitialInterval = sessionMinConnectInterval
	sessionBackoff.MaxInterval = sessionMaxConnectInterval
	sessionBackoff.MaxElapsedTime = 0
	sessionBackoff.RandomizationFactor = 0

	for {
		_, statusCode, err := s.Request(http.MethodGet, checkSessionURL, nil, 5)
		if err == nil && utils.IsSuccessStatusCode(statusCode) {
			return true
		}

		wait := sessionBackoff.NextBackOff()
		log.Debug().Err(err).Msgf("Panel API not reachable, will try again in %ds.", int(wait.Seconds()))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// Request performs one HTTP call against the panel API with the relay's
// service credentials. timeout is in seconds.
func (s *Session) Request(method, url string, data interface{}, timeout int) ([]byte, int, error) {
	var body io.Reader
	if data != nil {
		raw, ok := data.([]byte)
		if !ok {
			encoded, err := json.Marshal(data)
			if err != nil {
				return nil, 0, err
			}
			raw = encoded
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.BaseURL+url, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", s.authorization)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", utils.GetUserAgent("consoled"))

	client := *s.Client
	client.Timeout = time.Duration(timeout) * time.Second

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return respBody, resp.StatusCode, nil
}
