// internal/provisioning/storagebox.go
package provisioning

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	httpclient "entitlement-workers/internal/common/http"
)

var (
	// ErrQuotaExceeded means the backend refused because of an account or rate limit.
	ErrQuotaExceeded = errors.New("storage backend quota or rate limit reached")
	// ErrBackendUnavailable covers network failures, timeouts and 5xx responses.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrUnexpectedLogin means the backend assigned a login whose tier and host
	// cannot be derived from its form.
	ErrUnexpectedLogin = errors.New("storage backend returned an unrecognized login")
)

// AccountCreator creates a restricted, home-directory-scoped account.
type AccountCreator interface {
	CreateRestrictedAccount(ctx context.Context, username, ownerHint string) (string, string, error)
}

// StorageBoxClient manages sub-accounts on a storage box through its REST API.
type StorageBoxClient struct {
	http  *httpclient.Client
	boxID string
}

func NewStorageBoxClient(cfg IsolatedConfig, timeout time.Duration) *StorageBoxClient {
	return &StorageBoxClient{
		http: httpclient.NewClient(timeout).
			WithBaseURL(cfg.BaseURL).
			WithHeader("Authorization", "Bearer "+cfg.APIToken),
		boxID: cfg.BoxID,
	}
}

type subaccountRequest struct {
	Username       string         `json:"username"`
	Password       string         `json:"password"`
	HomeDirectory  string         `json:"home_directory"`
	Description    string         `json:"description,omitempty"`
	AccessSettings accessSettings `json:"access_settings"`
}

type accessSettings struct {
	SambaEnabled        bool `json:"samba_enabled"`
	SSHEnabled          bool `json:"ssh_enabled"`
	WebDAVEnabled       bool `json:"webdav_enabled"`
	ReachableExternally bool `json:"reachable_externally"`
	Readonly            bool `json:"readonly"`
}

type subaccountResponse struct {
	Subaccount struct {
		Username string `json:"username"`
	} `json:"subaccount"`
}

type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var quotaErrorCodes = map[string]bool{
	"limit_exceeded":      true,
	"quota_exceeded":      true,
	"rate_limit_exceeded": true,
	"resource_limit":      true,
}

// CreateRestrictedAccount creates a read-only SFTP/WebDAV account confined to
// its own home directory and returns the login and password.
func (c *StorageBoxClient) CreateRestrictedAccount(ctx context.Context, username, ownerHint string) (string, string, error) {
	secret, err := generateSecret(24)
	if err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}

	req := subaccountRequest{
		Username:      username,
		Password:      secret,
		HomeDirectory: "/" + username,
		Description:   ownerHint,
		AccessSettings: accessSettings{
			SSHEnabled:          true,
			WebDAVEnabled:       true,
			ReachableExternally: true,
			Readonly:            true,
		},
	}

	var resp subaccountResponse
	path := fmt.Sprintf("/storage_boxes/%s/subaccounts", c.boxID)
	if err := c.http.DoJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", "", classifyBackendError(err)
	}

	login := resp.Subaccount.Username
	if login == "" {
		login = username
	}
	return login, secret, nil
}

func classifyBackendError(err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var body apiErrorBody
	_ = json.Unmarshal(statusErr.Body, &body)

	switch {
	case statusErr.StatusCode == http.StatusTooManyRequests,
		statusErr.StatusCode == http.StatusConflict && quotaErrorCodes[body.Error.Code],
		statusErr.StatusCode == http.StatusForbidden && quotaErrorCodes[body.Error.Code]:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, firstLine(body.Error.Message, statusErr.Error()))
	case statusErr.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, statusErr.Error())
	default:
		return fmt.Errorf("storage backend rejected request: %w", statusErr)
	}
}

func firstLine(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			if i := strings.IndexByte(c, '\n'); i >= 0 {
				return c[:i]
			}
			return c
		}
	}
	return ""
}

const secretAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

func generateSecret(n int) (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(secretAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(secretAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
