package cli

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/infrastructure/policy"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/logger"
)

type policyOptions struct {
	root *rootOptions
	file string
}

func newPolicyCommand(root *rootOptions) *cobra.Command {
	opts := &policyOptions{root: root}

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Validate and query policy documents",
	}
	cmd.PersistentFlags().StringVarP(&opts.file, "file", "f", "", "policy document (default: policy.file from config)")
	cmd.AddCommand(
		newPolicyValidateCommand(opts),
		newPolicyRolesCommand(opts),
		newPolicyCheckCommand(opts),
	)
	return cmd
}

func (o *policyOptions) path() (string, error) {
	if o.file != "" {
		return o.file, nil
	}
	cfg, err := o.root.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Policy.File, nil
}

func (o *policyOptions) engine(log logger.Logger) (*policy.Engine, error) {
	path, err := o.path()
	if err != nil {
		return nil, err
	}
	engine := policy.NewEngine(policy.EngineConfig{ServiceKeyHeader: constants.HeaderServiceKey}, log)
	if err := engine.LoadFile(path); err != nil {
		return nil, err
	}
	return engine, nil
}

// ==================== validate ====================

func newPolicyValidateCommand(opts *policyOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse a policy document and report problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.path()
			if err != nil {
				return err
			}
			doc, err := policy.ReadDocument(path)
			if err != nil {
				return err
			}
			if _, err := opts.engine(cliLogger(cmd.ErrOrStderr())); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d roles, %d routes\n", path, len(doc.Roles), len(doc.Routes))
			for _, ref := range policy.UnknownRoleReferences(doc) {
				fmt.Fprintf(out, "warning: undefined role %s\n", ref)
			}
			return nil
		},
	}
}

// ==================== roles ====================

func newPolicyRolesCommand(opts *policyOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List roles with their effective permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := opts.engine(cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			roles := engine.Roles()
			sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tRPM\tSERVICE KEY\tPERMISSIONS")
			for _, role := range roles {
				fmt.Fprintf(tw, "%s\t%d\t%t\t%s\n", role.Name, role.MaxRequestsPerMinute, role.RequiresServiceKey,
					strings.Join(engine.EffectivePermissions(role.Name), ","))
			}
			return tw.Flush()
		},
	}
}

// ==================== check ====================

type checkOptions struct {
	method      string
	role        string
	subject     string
	permissions []string
	clientIP    string
	serviceKey  bool
	tls         bool
}

func newPolicyCheckCommand(opts *policyOptions) *cobra.Command {
	check := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check PATH",
		Short: "Evaluate a request against the policy and print the decision",
		Long: `check runs one request through the policy engine. Without --role the
request is anonymous. The exit status is non-zero when the request is denied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.engine(cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			req := &models.RequestInfo{
				Method:     strings.ToUpper(check.method),
				Path:       args[0],
				Header:     make(http.Header),
				RemoteAddr: check.clientIP,
				TLS:        check.tls,
			}
			if check.serviceKey {
				req.Header.Set(constants.HeaderServiceKey, "present")
			}

			var claims *models.TokenClaims
			if check.role != "" {
				claims = &models.TokenClaims{Role: check.role, Permissions: check.permissions, TokenType: models.TokenTypeAccess}
				claims.Subject = check.subject
			}

			decision, err := engine.Evaluate(cmd.Context(), req, check.clientIP, claims)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), decision); err != nil {
				return err
			}
			if !decision.Allowed {
				return fmt.Errorf("denied: %s", decision.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&check.method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVar(&check.role, "role", "", "caller role; empty means anonymous")
	cmd.Flags().StringVar(&check.subject, "subject", "cli", "caller subject")
	cmd.Flags().StringSliceVar(&check.permissions, "permission", nil, "permission carried by the token, repeatable")
	cmd.Flags().StringVar(&check.clientIP, "ip", "127.0.0.1", "client IP")
	cmd.Flags().BoolVar(&check.serviceKey, "service-key", false, "send a service key header")
	cmd.Flags().BoolVar(&check.tls, "tls", false, "treat the request as arriving over TLS")
	return cmd
}
