package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/teslashibe/go-teachable/internal/httpc"
)

// ErrNotAuthenticated is returned when Drive has no usable token.
var ErrNotAuthenticated = errors.New("export: not authenticated with Google Drive")

// DriveConfig configures the Google Drive exporter.
type DriveConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"` // e.g. http://localhost:8080/api/drive/callback
	TokenPath    string `mapstructure:"token_path"`   // default ~/.teachable/google_token.json
	FolderID     string `mapstructure:"folder_id"`
}

// DriveExporter uploads artifacts to Google Drive using an OAuth2 token
// stored on disk.
type DriveExporter struct {
	config    *oauth2.Config
	tokenPath string
	folderID  string

	mu    sync.RWMutex
	token *oauth2.Token
}

// NewDriveExporter creates the exporter and loads a saved token if present.
func NewDriveExporter(cfg DriveConfig) (*DriveExporter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("export: drive client id and secret are required")
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8080/api/drive/callback"
	}
	if cfg.TokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(homeDir, ".teachable", "google_token.json")
	}

	d := &DriveExporter{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{drive.DriveFileScope},
			Endpoint:     google.Endpoint,
		},
		tokenPath: cfg.TokenPath,
		folderID:  cfg.FolderID,
	}

	// A missing token just means the user has not connected yet.
	_ = d.loadToken()

	return d, nil
}

// Authenticated reports whether a token is loaded.
func (d *DriveExporter) Authenticated() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.token != nil
}

// AuthURL returns the consent URL.
func (d *DriveExporter) AuthURL() string {
	return d.config.AuthCodeURL("teachable-state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges an authorization code and saves the token.
func (d *DriveExporter) HandleCallback(ctx context.Context, code string) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpc.Client)
	token, err := d.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}

	d.mu.Lock()
	d.token = token
	d.mu.Unlock()

	return d.saveToken()
}

// Export uploads data as a new file and returns its Drive URL.
func (d *DriveExporter) Export(ctx context.Context, name string, data []byte) (string, error) {
	d.mu.RLock()
	token := d.token
	d.mu.RUnlock()
	if token == nil {
		return "", ErrNotAuthenticated
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpc.Download)
	srv, err := drive.NewService(ctx, option.WithTokenSource(d.config.TokenSource(ctx, token)))
	if err != nil {
		return "", fmt.Errorf("failed to create drive service: %w", err)
	}

	file := &drive.File{Name: name, MimeType: "application/zip"}
	if d.folderID != "" {
		file.Parents = []string{d.folderID}
	}

	created, err := srv.Files.Create(file).Media(bytes.NewReader(data)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}

	return "https://drive.google.com/file/d/" + created.Id, nil
}

func (d *DriveExporter) loadToken() error {
	data, err := os.ReadFile(d.tokenPath)
	if err != nil {
		return err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}

	d.mu.Lock()
	d.token = &token
	d.mu.Unlock()
	return nil
}

func (d *DriveExporter) saveToken() error {
	d.mu.RLock()
	token := d.token
	d.mu.RUnlock()
	if token == nil {
		return fmt.Errorf("no token to save")
	}

	if err := os.MkdirAll(filepath.Dir(d.tokenPath), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.tokenPath, data, 0600)
}
