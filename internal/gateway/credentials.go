package gateway

import (
	"context"
	"errors"
	"fmt"
)

// CredentialSource returns a provider secret. Implementations must not cache beyond one call.
type CredentialSource interface {
	Credential(ctx context.Context, slug, key string) (string, error)
}

// StaticCredentials is a fixed slug -> key -> value table.
type StaticCredentials map[string]map[string]string

func (s StaticCredentials) Credential(_ context.Context, slug, key string) (string, error) {
	if v, ok := s[slug][key]; ok {
		return v, nil
	}
	return "", errors.New("credential not found")
}

// loadCredentials fetches every key for one call. A missing key is an AuthError.
func loadCredentials(ctx context.Context, src CredentialSource, slug string, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := src.Credential(ctx, slug, k)
		if err != nil || v == "" {
			return nil, &AuthError{Provider: slug, Msg: fmt.Sprintf("credential %q unavailable", k)}
		}
		out[k] = v
	}
	return out, nil
}
