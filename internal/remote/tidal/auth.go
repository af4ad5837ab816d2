package tidal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/adrg/xdg"
	"golang.org/x/oauth2"

	"cratemirror/internal/logger"
)

const (
	// Public device-flow client ID, same one the desktop apps ship with.
	defaultClientID = "zU4XHVVkc2tDPo4t"

	deviceAuthURL = "https://auth.tidal.com/v1/oauth2/device_authorization"
	tokenURL      = "https://auth.tidal.com/v1/oauth2/token"
)

func oauthConfig(clientID string) *oauth2.Config {
	if clientID == "" {
		clientID = defaultClientID
	}
	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   []string{"r_usr", "w_usr"},
		Endpoint: oauth2.Endpoint{
			TokenURL:      tokenURL,
			DeviceAuthURL: deviceAuthURL,
		},
	}
}

func tokenFile() (string, error) {
	return xdg.ConfigFile("cratemirror/tidal-token.json")
}

// Login runs the OAuth device flow: print the verification link, poll until
// the user approves in a browser, then cache the token for later runs.
func Login(ctx context.Context, clientID string, log *logger.Logger) error {
	cfg := oauthConfig(clientID)

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return fmt.Errorf("device authorization: %w", err)
	}

	link := da.VerificationURIComplete
	if link == "" {
		link = da.VerificationURI
	}
	log.Info("open https://%s in a browser and approve the login (code %s)", link, da.UserCode)

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return fmt.Errorf("device login: %w", err)
	}
	if err := saveToken(tok); err != nil {
		return fmt.Errorf("cache token: %w", err)
	}
	log.Info("logged in, token cached")
	return nil
}

func loadToken() (*oauth2.Token, error) {
	path, err := tokenFile()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("corrupt token cache %s: %w", path, err)
	}
	return &tok, nil
}

func saveToken(tok *oauth2.Token) error {
	path, err := tokenFile()
	if err != nil {
		return err
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// persistingSource wraps the refreshing token source and writes rotated
// tokens back to the cache, so a refresh in one run survives to the next.
type persistingSource struct {
	mu   sync.Mutex
	src  oauth2.TokenSource
	last *oauth2.Token
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.last == nil || tok.AccessToken != s.last.AccessToken {
		s.last = tok
		// Best effort: a failed write only costs a re-login later.
		_ = saveToken(tok)
	}
	return tok, nil
}
