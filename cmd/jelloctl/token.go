package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

// signToken mints an HS256 token accepted by an agent running with
// LOCAL_AUTH_MODE=hs256.
func signToken(secret []byte, userID, audience, issuer string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (c *cli) tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Print a locally signed token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := c.v.GetString("secret")
			if secret == "" {
				return errors.New("set --secret or JELLO_SECRET")
			}
			ttl := c.v.GetDuration("ttl")
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			tok, err := signToken([]byte(secret), args[0], c.v.GetString("audience"), c.v.GetString("issuer"), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("secret", "", "shared HS256 secret")
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	cmd.Flags().String("audience", "", "aud claim")
	cmd.Flags().String("issuer", "", "iss claim")
	c.bind(cmd, "secret", "ttl", "audience", "issuer")
	return cmd
}
