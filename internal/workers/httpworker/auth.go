package httpworker

import (
	"encoding/base64"
	"fmt"
	"net/http"
)

// AuthKind selects which AuthConfig variant a request applies.
type AuthKind string

const (
	AuthNone   AuthKind = ""
	AuthBasic  AuthKind = "basic"
	AuthAPIKey AuthKind = "api_key"
	AuthBearer AuthKind = "bearer"
	AuthOAuth2 AuthKind = "oauth2"
)

// AuthConfig resolves to an Authorization header (or query parameter,
// for the ApiKey-in-query variant) applied on top of any template-
// rendered headers. There is no legacy SecretConfig header override:
// this block and the node's connection_slug are the only credential
// sources. Grounded on
// spec.md §4.5's Basic | ApiKey{in_header|query} | Bearer | OAuth2
// variants; OAuth2 token acquisition is delegated to
// golang.org/x/oauth2's client-credentials flow.
type AuthConfig struct {
	Kind AuthKind

	// Basic
	Username string
	Password string

	// ApiKey
	KeyName  string
	KeyValue string
	InQuery  bool

	// Bearer
	Token string

	// OAuth2 client-credentials
	TokenSource OAuth2TokenSource
}

// OAuth2TokenSource returns a bearer token for an OAuth2 AuthConfig.
// Implemented by oauth2Source (golang.org/x/oauth2-backed) in oauth2.go.
type OAuth2TokenSource interface {
	Token() (string, error)
}

// parseAuthConfig builds an AuthConfig from a node's raw "auth" config
// block, or returns a zero-value (AuthNone) config when absent.
func parseAuthConfig(raw map[string]any) (AuthConfig, error) {
	if raw == nil {
		return AuthConfig{}, nil
	}

	kind, _ := raw["kind"].(string)
	cfg := AuthConfig{Kind: AuthKind(kind)}

	switch cfg.Kind {
	case AuthNone:
		return AuthConfig{}, nil
	case AuthBasic:
		cfg.Username, _ = raw["username"].(string)
		cfg.Password, _ = raw["password"].(string)
	case AuthAPIKey:
		cfg.KeyName, _ = raw["key_name"].(string)
		cfg.KeyValue, _ = raw["key_value"].(string)
		in, _ := raw["in"].(string)
		cfg.InQuery = in == "query"
		if cfg.KeyName == "" {
			cfg.KeyName = "X-Api-Key"
		}
	case AuthBearer:
		cfg.Token, _ = raw["token"].(string)
	case AuthOAuth2:
		tokenURL, _ := raw["token_url"].(string)
		clientID, _ := raw["client_id"].(string)
		clientSecret, _ := raw["client_secret"].(string)
		var scopes []string
		if raw, ok := raw["scopes"].([]any); ok {
			for _, s := range raw {
				if str, ok := s.(string); ok {
					scopes = append(scopes, str)
				}
			}
		}
		cfg.TokenSource = newOAuth2Source(tokenURL, clientID, clientSecret, scopes)
	default:
		return AuthConfig{}, fmt.Errorf("httpworker: unknown auth kind %q", kind)
	}

	return cfg, nil
}

// apply mutates req (and, for ApiKey-in-query, its URL) to carry this
// AuthConfig's credentials.
func (a AuthConfig) apply(req *http.Request) error {
	switch a.Kind {
	case AuthNone:
		return nil
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	case AuthAPIKey:
		if a.InQuery {
			q := req.URL.Query()
			q.Set(a.KeyName, a.KeyValue)
			req.URL.RawQuery = q.Encode()
		} else {
			req.Header.Set(a.KeyName, a.KeyValue)
		}
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthOAuth2:
		if a.TokenSource == nil {
			return fmt.Errorf("httpworker: oauth2 auth configured without a token source")
		}
		token, err := a.TokenSource.Token()
		if err != nil {
			return fmt.Errorf("httpworker: oauth2 token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// basicAuthHeader renders a Basic auth value without requiring a live
// *http.Request. Nothing calls it: credentials resolved from a
// connection_slug are applied only as a Bearer token, never as Basic.
func basicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
