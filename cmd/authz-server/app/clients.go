package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/server"
)

func newRegisterClientCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register-client",
		Short: "Register an OAuth client",
		Long: `Register an OAuth client in the configured storage backend. Unless the
client is public a secret is generated when none is given. The plaintext
secret is printed once and only its bcrypt hash is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := stderrLogger(v)
			if err != nil {
				return err
			}

			client, secret, err := clientFromFlags(v)
			if err != nil {
				return err
			}

			b, err := openBackend(cmd.Context(), v, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			registered, err := server.NewClientService(b.stores.Clients, b.codec, logger).Register(cmd.Context(), client)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client_id: %s\n", registered.ClientID)
			if secret != "" {
				fmt.Fprintf(out, "client_secret: %s\n", secret)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("client-id", "", "Client identifier (default: generated)")
	flags.String("client-secret", "", "Client secret (default: generated unless --public)")
	flags.String("client-name", "", "Human readable client name")
	flags.Bool("public", false, "Register a public client without a secret")
	flags.StringSlice("grant-types", []string{authorization.GrantTypePassword.String()}, "Allowed grant types")
	flags.StringSlice("scopes", nil, "Allowed scopes")
	flags.StringSlice("auth-methods", nil, "Client authentication methods (default: client_secret_basic, or none for public clients)")
	addStorageFlags(cmd)

	return cmd
}

// clientFromFlags builds the client to register and returns the plaintext
// secret to show the operator.
func clientFromFlags(v *viper.Viper) (*authorization.RegisteredClient, string, error) {
	public := v.GetBool("public")
	secret := v.GetString("client-secret")
	if public && secret != "" {
		return nil, "", fmt.Errorf("--client-secret cannot be combined with --public")
	}
	if !public && secret == "" {
		secret = server.GenerateClientSecret()
	}

	c := &authorization.RegisteredClient{
		ClientID:      v.GetString("client-id"),
		ClientSecret:  secret,
		ClientName:    v.GetString("client-name"),
		Scopes:        v.GetStringSlice("scopes"),
		TokenSettings: authorization.DefaultTokenSettings(),
	}
	for _, gt := range v.GetStringSlice("grant-types") {
		c.AuthorizationGrantTypes = append(c.AuthorizationGrantTypes, authorization.ResolveGrantType(gt))
	}
	for _, m := range v.GetStringSlice("auth-methods") {
		method := authorization.ResolveClientAuthenticationMethod(m)
		if public && method != authorization.ClientAuthenticationMethodNone {
			return nil, "", fmt.Errorf("public clients can only use the none authentication method")
		}
		c.ClientAuthenticationMethods = append(c.ClientAuthenticationMethods, method)
	}
	if len(c.AuthorizationGrantTypes) == 0 {
		return nil, "", fmt.Errorf("at least one grant type is required")
	}

	return c, secret, nil
}
