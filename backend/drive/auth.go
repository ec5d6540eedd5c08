package drive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// driveScope is the single scope requested: full read/write/delete access,
// matching the original client's SCOPES constant.
const driveScope = "https://www.googleapis.com/auth/drive"

// AuthOptions locate the OAuth client credentials and the cached user
// token on disk.
type AuthOptions struct {
	ClientSecretsFile string
	TokenFile         string
}

func defaultTokenFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ftp-winmount", "gdrive-token.json"), nil
}

// clientSecrets is the subset of a Google Cloud "OAuth client ID" JSON
// download this back-end needs.
type clientSecrets struct {
	Installed struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		AuthURI      string   `json:"auth_uri"`
		TokenURI     string   `json:"token_uri"`
		RedirectURIs []string `json:"redirect_uris"`
	} `json:"installed"`
}

func loadOAuthConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client secrets file: %w", err)
	}
	var secrets clientSecrets
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing client secrets file: %w", err)
	}
	redirect := "urn:ietf:wg:oauth:2.0:oob"
	for _, u := range secrets.Installed.RedirectURIs {
		if u != "" {
			redirect = u
			break
		}
	}
	return &oauth2.Config{
		ClientID:     secrets.Installed.ClientID,
		ClientSecret: secrets.Installed.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{driveScope},
		RedirectURL:  redirect,
	}, nil
}

// tokenStore persists an *oauth2.Token as JSON, the same format the
// original client's Credentials.to_json()/from_authorized_user_file wrote.
type tokenStore struct{ path string }

func (s tokenStore) load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing saved token: %w", err)
	}
	return &tok, nil
}

func (s tokenStore) save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// persistingTokenSource wraps an oauth2.TokenSource and writes every
// refreshed token back to disk, so a refresh obtained during one mount
// session is available to the next without re-running the consent flow.
type persistingTokenSource struct {
	base  oauth2.TokenSource
	store tokenStore
}

func (p persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	_ = p.store.save(tok)
	return tok, nil
}

// tokenSource returns a token source for the configured credentials,
// loading a cached token if present, refreshing it if expired, and
// falling back to an interactive authorization-code exchange (the
// console equivalent of the original's browser consent flow) when no
// usable token exists.
func tokenSource(ctx context.Context, opt AuthOptions) (oauth2.TokenSource, error) {
	tokenFile := opt.TokenFile
	if tokenFile == "" {
		var err error
		tokenFile, err = defaultTokenFile()
		if err != nil {
			return nil, err
		}
	}
	store := tokenStore{path: tokenFile}

	cfg, cfgErr := loadOAuthConfig(opt.ClientSecretsFile)

	if tok, err := store.load(); err == nil {
		if cfg == nil {
			// No client secrets available to refresh with; use the saved
			// token directly and hope it is still valid.
			return oauth2.StaticTokenSource(tok), nil
		}
		ts := cfg.TokenSource(ctx, tok)
		return persistingTokenSource{base: ts, store: store}, nil
	}

	if cfgErr != nil {
		return nil, fmt.Errorf("no saved Google Drive credentials found at %s and no usable "+
			"client secrets file was provided: %w", tokenFile, cfgErr)
	}

	tok, err := runAuthCodeFlow(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.save(tok); err != nil {
		return nil, fmt.Errorf("saving token: %w", err)
	}
	return persistingTokenSource{base: cfg.TokenSource(ctx, tok), store: store}, nil
}

// runAuthCodeFlow prints the consent URL and reads the resulting
// authorization code from stdin, the console analogue of the original's
// local-server OAuth callback.
func runAuthCodeFlow(cfg *oauth2.Config) (*oauth2.Token, error) {
	url := cfg.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Println("Open the following URL in a browser and authorize access:")
	fmt.Println(url)
	fmt.Print("Paste the authorization code here: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}
	code := strings.TrimSpace(line)

	tok, err := cfg.Exchange(context.Background(), code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}
