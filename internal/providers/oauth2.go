package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultSubjectClaim       = "sub"
	fallbackSubjectClaim      = "id"
	defaultEmailClaim         = "email"
	defaultEmailVerifiedClaim = "email_verified"
	defaultFirstNameClaim     = "given_name"
	defaultLastNameClaim      = "family_name"
)

var (
	// ErrInvalidProviderConfig indicates an OAuth2 provider was configured without required endpoints.
	ErrInvalidProviderConfig = errors.New("providers: invalid oauth2 provider config")
	errMissingSubjectClaim   = errors.New("userinfo response missing subject claim")
)

// OAuth2Config describes a generic authorization-code provider.
type OAuth2Config struct {
	ClientID           string
	ClientSecret       string
	AuthURL            string
	TokenURL           string
	UserInfoURL        string
	RedirectURL        string
	SubjectClaim       string
	EmailClaim         string
	EmailVerifiedClaim string
	FirstNameClaim     string
	LastNameClaim      string
	HTTPClient         *http.Client
	Logger             *zap.Logger
}

// OAuth2Provider implements Capability on top of golang.org/x/oauth2 and a userinfo endpoint.
type OAuth2Provider struct {
	oauthConfig        oauth2.Config
	userInfoURL        string
	subjectClaim       string
	emailClaim         string
	emailVerifiedClaim string
	firstNameClaim     string
	lastNameClaim      string
	httpClient         *http.Client
	logger             *zap.Logger
}

// NewOAuth2Provider validates the configuration and constructs the provider.
func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("%w: client id required", ErrInvalidProviderConfig)
	}
	if strings.TrimSpace(cfg.AuthURL) == "" || strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("%w: auth and token urls required", ErrInvalidProviderConfig)
	}
	if strings.TrimSpace(cfg.UserInfoURL) == "" {
		return nil, fmt.Errorf("%w: userinfo url required", ErrInvalidProviderConfig)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OAuth2Provider{
		oauthConfig: oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
			Endpoint: oauth2.Endpoint{
				AuthURL:  strings.TrimSpace(cfg.AuthURL),
				TokenURL: strings.TrimSpace(cfg.TokenURL),
			},
		},
		userInfoURL:        strings.TrimSpace(cfg.UserInfoURL),
		subjectClaim:       claimOrDefault(cfg.SubjectClaim, defaultSubjectClaim),
		emailClaim:         claimOrDefault(cfg.EmailClaim, defaultEmailClaim),
		emailVerifiedClaim: claimOrDefault(cfg.EmailVerifiedClaim, defaultEmailVerifiedClaim),
		firstNameClaim:     claimOrDefault(cfg.FirstNameClaim, defaultFirstNameClaim),
		lastNameClaim:      claimOrDefault(cfg.LastNameClaim, defaultLastNameClaim),
		httpClient:         httpClient,
		logger:             logger,
	}, nil
}

// AuthCodeURL builds the authorization redirect for the requested scope.
func (p *OAuth2Provider) AuthCodeURL(state string, scope []string) string {
	config := p.oauthConfig
	config.Scopes = append([]string(nil), scope...)
	return config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a token and reads the userinfo document.
func (p *OAuth2Provider) Exchange(ctx context.Context, params CallbackParams) (Grant, error) {
	if params.Error != "" {
		return Grant{}, fmt.Errorf("%w: %s %s", ErrProviderDenied, params.Error, params.ErrorDescription)
	}
	if strings.TrimSpace(params.Code) == "" {
		return Grant{}, ErrMissingCode
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauthConfig.Exchange(ctx, params.Code)
	if err != nil {
		p.logger.Warn("oauth2 code exchange failed", zap.Error(err))
		return Grant{}, fmt.Errorf("oauth2 code exchange failed: %w", err)
	}

	claims, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		p.logger.Warn("oauth2 userinfo request failed", zap.Error(err))
		return Grant{}, err
	}

	subject := claimString(claims, p.subjectClaim)
	if subject == "" && p.subjectClaim == defaultSubjectClaim {
		subject = claimString(claims, fallbackSubjectClaim)
	}
	if subject == "" {
		return Grant{}, errMissingSubjectClaim
	}

	email := claimString(claims, p.emailClaim)
	return Grant{
		Profile: Profile{
			Subject:       subject,
			Email:         email,
			EmailVerified: email != "" && claimBool(claims, p.emailVerifiedClaim),
			FirstName:     claimString(claims, p.firstNameClaim),
			LastName:      claimString(claims, p.lastNameClaim),
		},
		AccessToken: token.AccessToken,
	}, nil
}

func (p *OAuth2Provider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]interface{}, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")

	response, err := p.oauthConfig.Client(ctx, token).Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request returned status %d", response.StatusCode)
	}

	decoder := json.NewDecoder(response.Body)
	decoder.UseNumber()
	var claims map[string]interface{}
	if err := decoder.Decode(&claims); err != nil {
		return nil, fmt.Errorf("userinfo decode failed: %w", err)
	}
	return claims, nil
}

func claimString(claims map[string]interface{}, key string) string {
	switch value := claims[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	default:
		return ""
	}
}

// claimBool accepts a JSON boolean or its string form; anything else is false.
func claimBool(claims map[string]interface{}, key string) bool {
	switch value := claims[key].(type) {
	case bool:
		return value
	case string:
		return strings.EqualFold(strings.TrimSpace(value), "true")
	default:
		return false
	}
}

func claimOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
