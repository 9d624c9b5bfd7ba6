package gitclone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

var errNoAuth = errors.New("no authentication method configured")

// authMethod builds transport credentials from job metadata. Public repos
// clone fine without any, so callers treat errNoAuth as a soft condition.
func authMethod(repoURL string, metadata map[string]any) (transport.AuthMethod, error) {
	token, _ := metadata["token"].(string)
	if token != "" {
		switch {
		case strings.Contains(repoURL, "github.com"), strings.Contains(repoURL, "gitlab.com"):
			return &http.BasicAuth{Username: "oauth2", Password: token}, nil
		case strings.Contains(repoURL, "bitbucket.org"):
			return &http.BasicAuth{Username: "x-token-auth", Password: token}, nil
		}
	}

	sshKeyPath, _ := metadata["sshKey"].(string)
	if sshKeyPath != "" {
		publicKeys, err := ssh.NewPublicKeysFromFile("git", sshKeyPath, "")
		if err != nil {
			return nil, fmt.Errorf("couldn't load SSH key: %v", err)
		}
		return publicKeys, nil
	}
	return nil, errNoAuth
}
