package oci

import (
	"context"
	"errors"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// DockerCredentials returns the credential store configured for the docker
// CLI (~/.docker/config.json and its credential helpers).
func DockerCredentials() (credentials.Store, error) {
	return credentials.NewStoreFromDocker(credentials.StoreOptions{})
}

// StaticCredentials returns a read-only store holding one username and
// password for registry. A username without password is used as a bearer
// token.
func StaticCredentials(registry, username, password string) credentials.Store {
	cred := auth.Credential{Username: username, Password: password}
	if password == "" {
		cred = auth.Credential{AccessToken: username}
	}
	return &staticStore{registry: normalizeHost(registry), cred: cred}
}

type staticStore struct {
	registry string
	cred     auth.Credential
}

func (s *staticStore) Get(_ context.Context, serverAddress string) (auth.Credential, error) {
	if normalizeHost(serverAddress) == s.registry {
		return s.cred, nil
	}
	return auth.EmptyCredential, nil
}

func (s *staticStore) Put(context.Context, string, auth.Credential) error {
	return errors.New("oci: static credential store is read-only")
}

func (s *staticStore) Delete(context.Context, string) error {
	return errors.New("oci: static credential store is read-only")
}

func normalizeHost(addr string) string {
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimPrefix(addr, "http://")
	addr, _, _ = strings.Cut(addr, "/")
	return strings.ToLower(addr)
}
