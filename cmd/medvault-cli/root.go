package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	a := newApp()
	var logLevel string
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "medvault-cli",
		Short:         "MedVault operator CLI",
		Long:          "Submit and retrieve encrypted medical records, manage access grants and hospitals through the gasless relayer.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(logLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.keyHex, "key", "", "hex private key of the signer (default $MEDVAULT_KEY)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log to stderr at this level (debug|info|warn|error)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall command timeout")

	ctxFor := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), timeout)
	}

	root.AddCommand(
		newSubmitCmd(a, ctxFor),
		newFetchCmd(a, ctxFor),
		newVerifyCmd(a, ctxFor),
		newRecordsCmd(a, ctxFor),
		newGrantCmd(a, ctxFor),
		newRevokeCmd(a, ctxFor),
		newRegisterHospitalCmd(a, ctxFor),
		newWhitelistHospitalCmd(a, ctxFor),
		newNonceCmd(a, ctxFor),
		newPinTokenCmd(a),
	)
	return root
}

type ctxFunc func(cmd *cobra.Command) (context.Context, context.CancelFunc)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
