package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/outpost-labs/okta-idx-go/lib"
	"github.com/outpost-labs/okta-idx-go/lib/session"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami [profile]",
	Short: "whoami prints the identity claims of the cached token",
	RunE:  whoamiRun,
}

func init() {
	RootCmd.AddCommand(whoamiCmd)
}

func whoamiRun(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return ErrTooManyArguments
	}
	profile := lib.DefaultProfile
	if len(args) == 1 {
		profile = args[0]
	}

	kr, err := openKeyring()
	if err != nil {
		return err
	}
	store := &session.Store{Keyring: kr}

	cached, err := store.Get(profile)
	if err != nil {
		return fmt.Errorf("no valid session for profile %s, run `okta-idx login %s`", profile, profile)
	}

	claims, err := cached.IDTokenClaims()
	if err != nil {
		return err
	}

	for _, key := range []string{"sub", "name", "email", "preferred_username"} {
		if v, ok := claims[key]; ok {
			fmt.Printf("%-20s %v\n", key, v)
		}
	}
	fmt.Printf("%-20s %s\n", "expires", cached.ExpiresAt.Format(time.RFC1123))
	return nil
}
