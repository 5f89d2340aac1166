package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outpost-labs/okta-idx-go/lib"
	"github.com/outpost-labs/okta-idx-go/lib/session"
)

var logoutCmd = &cobra.Command{
	Use:   "logout [profile]",
	Short: "logout drops the cached token for a profile",
	RunE:  logoutRun,
}

func init() {
	RootCmd.AddCommand(logoutCmd)
}

func logoutRun(cmd *cobra.Command, args []string) error {
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

	if err := store.Delete(profile); err != nil {
		return err
	}
	fmt.Printf("Dropped cached token for profile %s\n", profile)
	return nil
}
