package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mycobrun/cobrun-picker/logging"
	"github.com/mycobrun/cobrun-picker/resilience"
)

const (
	// SelectionChangedTarget is the client method invoked with each frame.
	SelectionChangedTarget = "selectionChanged"

	defaultHub      = "picker"
	serverTokenTTL  = 5 * time.Minute
	defaultTokenTTL = time.Hour
	groupPrefix     = "picker-"
)

// SignalRConfig holds Azure SignalR Service configuration.
type SignalRConfig struct {
	ConnectionString string
	HubName          string
}

// SignalR pushes frames to live map clients through the SignalR Service
// REST API. Each picker session is its own group.
type SignalR struct {
	hub       string
	endpoint  string
	accessKey []byte
	http      *resilience.ResilientHTTPClient
	logger    *logging.Logger
	now       func() time.Time
}

// NewSignalR creates a SignalR backend. httpClient may be nil.
func NewSignalR(config SignalRConfig, httpClient *resilience.ResilientHTTPClient, logger *logging.Logger) (*SignalR, error) {
	endpoint, accessKey, err := parseConnectionString(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.HubName == "" {
		config.HubName = defaultHub
	}
	if httpClient == nil {
		httpClient = resilience.NewResilientHTTPClient(resilience.DefaultResilientHTTPClientConfig("signalr"))
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &SignalR{
		hub:       config.HubName,
		endpoint:  endpoint,
		accessKey: []byte(accessKey),
		http:      httpClient,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// parseConnectionString reads Endpoint and AccessKey from a SignalR
// connection string.
func parseConnectionString(connStr string) (endpoint, accessKey string, err error) {
	for _, part := range strings.Split(connStr, ";") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "Endpoint="):
			endpoint = strings.TrimRight(strings.TrimPrefix(part, "Endpoint="), "/")
		case strings.HasPrefix(part, "AccessKey="):
			accessKey = strings.TrimPrefix(part, "AccessKey=")
		}
	}

	if endpoint == "" || accessKey == "" {
		return "", "", fmt.Errorf("invalid connection string format")
	}

	return endpoint, accessKey, nil
}

// GroupName is the SignalR group of a session.
func GroupName(sessionID string) string {
	return groupPrefix + sessionID
}

// NegotiateResponse is what a map client needs to connect to the hub.
type NegotiateResponse struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// Negotiate issues a client token for sessionID and adds that user to the
// session's group.
func (s *SignalR) Negotiate(ctx context.Context, sessionID string, expiresIn time.Duration) (*NegotiateResponse, error) {
	if expiresIn <= 0 {
		expiresIn = defaultTokenTTL
	}

	hubURL := fmt.Sprintf("%s/client/?hub=%s", s.endpoint, url.QueryEscape(s.hub))
	token, err := s.token(hubURL, sessionID, expiresIn)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	path := fmt.Sprintf("/api/v1/hubs/%s/groups/%s/users/%s",
		url.PathEscape(s.hub), url.PathEscape(GroupName(sessionID)), url.PathEscape(sessionID))
	if err := s.request(ctx, http.MethodPut, path, nil); err != nil {
		return nil, fmt.Errorf("failed to join session group: %w", err)
	}

	return &NegotiateResponse{
		URL:         hubURL,
		AccessToken: token,
		ExpiresIn:   int64(expiresIn.Seconds()),
	}, nil
}

// ForSession returns a Renderer sending frames to the session's group.
func (s *SignalR) ForSession(sessionID string) Renderer {
	group := GroupName(sessionID)
	return RendererFunc(func(ctx context.Context, f Frame) error {
		return s.SendToGroup(ctx, group, SelectionChangedTarget, f.FeatureCollection())
	})
}

// SendToGroup invokes target on every connection in group.
func (s *SignalR) SendToGroup(ctx context.Context, group, target string, arguments ...any) error {
	path := fmt.Sprintf("/api/v1/hubs/%s/groups/%s", url.PathEscape(s.hub), url.PathEscape(group))
	return s.request(ctx, http.MethodPost, path, map[string]any{
		"target":    target,
		"arguments": arguments,
	})
}

type tokenClaims struct {
	NameID string `json:"nameid,omitempty"`
	jwt.RegisteredClaims
}

func (s *SignalR) token(audience, userID string, expiresIn time.Duration) (string, error) {
	now := s.now().UTC()
	claims := tokenClaims{
		NameID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessKey)
}

func (s *SignalR) request(ctx context.Context, method, path string, body any) error {
	apiURL := s.endpoint + path

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token, err := s.token(apiURL, "", serverTokenTTL)
	if err != nil {
		return fmt.Errorf("failed to generate access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("signalr request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("signalr request failed with status %d", resp.StatusCode)
	}

	s.logger.DebugContext(ctx, "signalr request sent", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}
