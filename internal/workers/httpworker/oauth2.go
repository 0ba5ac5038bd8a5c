package httpworker

import (
	"context"

	"golang.org/x/oauth2/clientcredentials"
)

// oauth2Source is the OAuth2TokenSource backed by
// golang.org/x/oauth2/clientcredentials — the client-credentials grant
// is the only flow spec.md's AuthConfig.OAuth2 variant requires (a
// server-side node fetching its own token, not a user-delegated flow).
type oauth2Source struct {
	cfg *clientcredentials.Config
}

func newOAuth2Source(tokenURL, clientID, clientSecret string, scopes []string) *oauth2Source {
	return &oauth2Source{cfg: &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}}
}

func (s *oauth2Source) Token() (string, error) {
	token, err := s.cfg.Token(context.Background())
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}
