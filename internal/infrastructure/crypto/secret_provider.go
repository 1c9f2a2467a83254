package crypto

import (
	"context"
	"crypto/rand"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
)

// StaticSecretProvider serves a secret fixed at construction, usually from configuration.
type StaticSecretProvider struct {
	secret []byte
}

// NewStaticSecretProvider wraps secret.
func NewStaticSecretProvider(secret string) *StaticSecretProvider {
	return &StaticSecretProvider{secret: []byte(secret)}
}

// SigningSecret returns the configured secret.
func (p *StaticSecretProvider) SigningSecret(ctx context.Context) ([]byte, error) {
	if len(p.secret) == 0 {
		return nil, errors.ErrInvalidConfig("jwt.secret is empty")
	}
	return p.secret, nil
}

// VaultSecretProvider reads the signing secret from a Vault KV version 2 engine.
type VaultSecretProvider struct {
	client     *vault.Client
	log        logger.Logger
	mountPath  string
	secretPath string
	secretKey  string
}

// NewVaultSecretProvider creates and configures a new Vault client.
func NewVaultSecretProvider(cfg config.VaultConfig, log logger.Logger) (*VaultSecretProvider, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, errors.ErrInvalidConfig("vault client").WithCause(err)
	}
	// Token auth only; AppRole and friends are configured outside the gate.
	client.SetToken(cfg.Token)

	if log == nil {
		log = logger.NewNoopLogger()
	}
	mountPath := cfg.MountPath
	if mountPath == "" {
		mountPath = "secret"
	}
	secretKey := cfg.SecretKey
	if secretKey == "" {
		secretKey = "jwt_secret"
	}

	return &VaultSecretProvider{
		client:     client,
		log:        log.WithComponent("vault"),
		mountPath:  mountPath,
		secretPath: cfg.SecretPath,
		secretKey:  secretKey,
	}, nil
}

// SigningSecret fetches the latest version of the secret.
func (p *VaultSecretProvider) SigningSecret(ctx context.Context) ([]byte, error) {
	secret, err := p.client.KVv2(p.mountPath).Get(ctx, p.secretPath)
	if err != nil {
		p.log.Error(ctx, "Failed to read signing secret from vault", err,
			logger.String("mount_path", p.mountPath),
			logger.String("secret_path", p.secretPath),
		)
		return nil, errors.ErrInternal("signing secret unavailable").WithCause(err)
	}

	raw, ok := secret.Data[p.secretKey]
	if !ok {
		return nil, errors.ErrInvalidConfig(fmt.Sprintf("vault secret %s/%s has no key %q", p.mountPath, p.secretPath, p.secretKey))
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return nil, errors.ErrInvalidConfig(fmt.Sprintf("vault secret key %q is not a non-empty string", p.secretKey))
	}

	p.log.Info(ctx, "Loaded signing secret from vault", logger.String("secret_path", p.secretPath))
	return []byte(value), nil
}

// NewRandomSecretProvider generates a 32-byte secret that lives only as long as the
// process. Tokens do not survive a restart.
func NewRandomSecretProvider() (*StaticSecretProvider, error) {
	secret := make([]byte, MinSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.ErrInternal("failed to generate signing secret").WithCause(err)
	}
	return &StaticSecretProvider{secret: secret}, nil
}

// NewSecretProvider picks the signing secret source: Vault when enabled, then the
// configured secret, then a random per-process secret in development.
func NewSecretProvider(cfg *config.Config, log logger.Logger) (service.SecretProvider, error) {
	switch {
	case cfg.Vault.Enabled:
		return NewVaultSecretProvider(cfg.Vault, log)
	case cfg.JWT.Secret != "":
		return NewStaticSecretProvider(cfg.JWT.Secret), nil
	case cfg.IsDevelopment():
		log.Warn(context.Background(), "No jwt.secret configured, using a random development secret")
		return NewRandomSecretProvider()
	default:
		return nil, errors.ErrInvalidConfig("jwt.secret is required unless vault is enabled")
	}
}

//Personal.AI order the ending
