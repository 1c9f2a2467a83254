package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/accessgate/internal/application/dto"
	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/internal/infrastructure/cache"
	"github.com/turtacn/accessgate/internal/infrastructure/crypto"
	"github.com/turtacn/accessgate/internal/infrastructure/ratelimit"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
	"github.com/turtacn/accessgate/pkg/utils"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint and inspect tokens with the configured signing secret",
		Long: `Token commands sign with the same secret the gateway uses: jwt.secret from the
config file, ACCESSGATE_JWT_SECRET, or Vault when vault.enabled is set.`,
	}
	cmd.AddCommand(newTokenIssueCommand(opts), newTokenInspectCommand(opts))
	return cmd
}

func newTokenIssueCommand(opts *rootOptions) *cobra.Command {
	req := &dto.TokenIssueRequest{}

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access token, or an access and refresh pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := utils.ValidateStruct(req); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			tokens, err := opts.tokenService(ctx, cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			if req.AccessOnly {
				token, claims, err := tokens.IssueAccessToken(ctx, req.ToIssueRequest())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), dto.AccessOnlyPair(token, claims))
			}
			pair, err := tokens.IssueTokenPair(ctx, req.ToIssueRequest())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pair)
		},
	}
	cmd.Flags().StringVar(&req.Subject, "subject", "", "token subject (user or service ID)")
	cmd.Flags().StringVar(&req.Role, "role", "", "RBAC role carried by the token")
	cmd.Flags().StringSliceVar(&req.Permissions, "permission", nil, "extra permission, repeatable")
	cmd.Flags().StringVar(&req.DeviceID, "device", "", "device ID to bind the session to")
	cmd.Flags().BoolVar(&req.AccessOnly, "access-only", false, "skip the refresh token")
	return cmd
}

func newTokenInspectCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect TOKEN",
		Short: "Check a token's signature and print its claims",
		Long: `inspect verifies the signature and reports expiry. Revocation lives in the
gateway's memory, so a token revoked there is still reported active here.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			tokens, err := opts.tokenService(ctx, cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			info, err := tokens.Inspect(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), dto.NewTokenIntrospectResponse(info))
		},
	}
}

// tokenService builds a token service on the configured secret. A random development
// secret is refused because nothing else could verify what it signs.
func (o *rootOptions) tokenService(ctx context.Context, log logger.Logger) (service.TokenService, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.JWT.Secret == "" && !cfg.Vault.Enabled {
		return nil, errors.ErrInvalidConfig("token commands need jwt.secret or vault to be configured")
	}
	return buildTokenService(ctx, cfg, log)
}

func buildTokenService(ctx context.Context, cfg *config.Config, log logger.Logger) (service.TokenService, error) {
	secrets, err := crypto.NewSecretProvider(cfg, log)
	if err != nil {
		return nil, err
	}
	secret, err := secrets.SigningSecret(ctx)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.NewJWTManager(secret, nil)
	if err != nil {
		return nil, fmt.Errorf("jwt signing secret: %w", err)
	}
	return service.NewTokenService(cfg.JWT.ToTokenServiceConfig(), signer,
		cache.NewRevocationList(cfg.JWT.CleanupInterval), ratelimit.NewSlidingWindow(), log), nil
}
