package fcm

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	messagingScope = "https://www.googleapis.com/auth/firebase.messaging"
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	// refresh a little early so a token never expires mid-request
	expirySkew = time.Minute
)

type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
	ProjectID   string `json:"project_id"`
}

// TokenSource exchanges a Firebase service-account key for OAuth2 access
// tokens via the JWT bearer grant. Tokens are cached until shortly before
// expiry; acquisition failure surfaces as a CredentialError.
type TokenSource struct {
	account    serviceAccount
	signingKey *rsa.PrivateKey
	httpClient *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

func NewTokenSource(credentialsPath string, httpClient *http.Client) (*TokenSource, error) {
	raw, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, &CredentialError{Cause: fmt.Errorf("reading service account file: %w", err)}
	}
	var account serviceAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, &CredentialError{Cause: fmt.Errorf("parsing service account file: %w", err)}
	}
	if account.ClientEmail == "" || account.PrivateKey == "" || account.TokenURI == "" {
		return nil, &CredentialError{Cause: fmt.Errorf("service account file is missing client_email, private_key or token_uri")}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, &CredentialError{Cause: fmt.Errorf("parsing private key: %w", err)}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenSource{
		account:    account,
		signingKey: key,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// ProjectID is the project encoded in the service account file, used as a
// fallback when the configuration does not name one.
func (ts *TokenSource) ProjectID() string {
	return ts.account.ProjectID
}

// Token returns a valid access token, refreshing it when the cached one is
// expired or about to expire.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expiry.Add(-expirySkew)) {
		return ts.token, nil
	}

	assertion, err := ts.signAssertion()
	if err != nil {
		return "", &CredentialError{Cause: err}
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.account.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &CredentialError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", &CredentialError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &CredentialError{Cause: fmt.Errorf("token endpoint returned status %d", resp.StatusCode)}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &CredentialError{Cause: fmt.Errorf("decoding token response: %w", err)}
	}
	if body.AccessToken == "" {
		return "", &CredentialError{Cause: fmt.Errorf("token endpoint returned an empty access token")}
	}

	ts.token = body.AccessToken
	ts.expiry = ts.now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return ts.token, nil
}

func (ts *TokenSource) signAssertion() (string, error) {
	issuedAt := ts.now()
	claims := jwt.MapClaims{
		"iss":   ts.account.ClientEmail,
		"scope": messagingScope,
		"aud":   ts.account.TokenURI,
		"iat":   issuedAt.Unix(),
		"exp":   issuedAt.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}
	return signed, nil
}
