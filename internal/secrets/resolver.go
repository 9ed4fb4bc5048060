// Package secrets resolves configuration secrets stored in Google Secret
// Manager.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/config"
)

// Accessor is the part of the Secret Manager client used here.
type Accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

type Resolver struct {
	client    Accessor
	projectID string
	close     func() error
}

func NewResolver(ctx context.Context, cfg *config.Config) (*Resolver, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID is required to read secrets from Secret Manager")
	}

	// Secret Manager has no emulator; local development needs a real project.
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &Resolver{client: client, projectID: cfg.GCPProjectID, close: client.Close}, nil
}

func NewResolverWithClient(client Accessor, projectID string) *Resolver {
	return &Resolver{client: client, projectID: projectID, close: func() error { return nil }}
}

// Access returns the payload of a secret. name is either a short secret id,
// read at its latest version, or a full resource name.
func (r *Resolver) Access(ctx context.Context, name string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{Name: r.resourceName(name)}
	result, err := r.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret version %s: %w", req.Name, err)
	}
	return strings.TrimSpace(string(result.GetPayload().GetData())), nil
}

func (r *Resolver) resourceName(name string) string {
	if !strings.HasPrefix(name, "projects/") {
		return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", r.projectID, name)
	}
	if !strings.Contains(name, "/versions/") {
		return name + "/versions/latest"
	}
	return name
}

func (r *Resolver) Close() error {
	return r.close()
}

// Needed reports whether cfg names a secret that has no value yet.
func Needed(cfg *config.Config) bool {
	return (cfg.LINEChannelSecret == "" && cfg.LINEChannelSecretName != "") ||
		(cfg.SessionSecret == "" && cfg.SessionSecretName != "")
}

// Resolve fills the secrets that cfg names but does not carry. Values given
// directly in the environment win.
func Resolve(ctx context.Context, cfg *config.Config, r *Resolver, logger zerolog.Logger) error {
	targets := []struct {
		name  string
		value *string
	}{
		{cfg.LINEChannelSecretName, &cfg.LINEChannelSecret},
		{cfg.SessionSecretName, &cfg.SessionSecret},
	}
	for _, t := range targets {
		if t.name == "" || *t.value != "" {
			continue
		}
		v, err := r.Access(ctx, t.name)
		if err != nil {
			return err
		}
		*t.value = v
		logger.Info().Str("secret", t.name).Msg("Secret resolved from Secret Manager")
	}
	return nil
}
