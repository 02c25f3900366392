package drive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"pi-timelapse/pkg/storage/util"
)

const (
	appDir    = "pi-timelapse"
	tokenFile = "drive-token.json"
	tokenPerm = 0600
)

var ErrNoToken = errors.New("no drive token, run with -auth first")

// TokenPath is the token cache under the user's configuration directory.
func TokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	return path.Join(dir, appDir, tokenFile), nil
}

func oauthConfig(secretPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fmt.Errorf("read client secret err: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secret err: %w", err)
	}

	return cfg, nil
}

func LoadToken(p string) (*oauth2.Token, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, err
	}
	tok := &oauth2.Token{}
	if err = json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("unmarshal token err: %w", err)
	}

	return tok, nil
}

func SaveToken(p string, tok *oauth2.Token) error {
	if err := util.MkdirAll(path.Dir(p)); err != nil {
		return err
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}

	return util.WriteFile(p, data, tokenPerm)
}

// Authorize runs the console code flow and caches the token at tokenPath.
func Authorize(ctx context.Context, secretPath, tokenPath string, in io.Reader, out io.Writer) error {
	cfg, err := oauthConfig(secretPath)
	if err != nil {
		return err
	}
	url := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open the following link in your browser, then paste the authorization code:\n%s\n> ", url)

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("empty authorization code")
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code err: %w", err)
	}
	if err = SaveToken(tokenPath, tok); err != nil {
		return fmt.Errorf("save token err: %w", err)
	}
	fmt.Fprintf(out, "token saved to %s\n", tokenPath)

	return nil
}

// New builds a client from the client secret and the cached token.
// Refreshed tokens are not written back.
func New(ctx context.Context, secretPath, tokenPath string) (*Client, error) {
	cfg, err := oauthConfig(secretPath)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(tokenPath)
	if err != nil {
		return nil, err
	}
	svc, err := drive.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create drive service err: %w", err)
	}

	return NewClient(svc), nil
}

// Lazy connects on the first upload so a session without network still
// captures and encodes.
type Lazy struct {
	SecretPath string
	TokenPath  string

	once   sync.Once
	client *Client
	err    error
}

func (l *Lazy) Upload(ctx context.Context, p, folder string) (string, error) {
	l.once.Do(func() {
		l.client, l.err = New(ctx, l.SecretPath, l.TokenPath)
	})
	if l.err != nil {
		return "", l.err
	}

	return l.client.Upload(ctx, p, folder)
}
