package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/chain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/metatx"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/pinstore"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/records"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/relayer"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func newSubmitCmd(a *app, ctxFor ctxFunc) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Encrypt, upload and anchor a medical record (hospital key)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var rec domain.MedicalRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			signer, err := a.signer()
			if err != nil {
				return err
			}
			ctx, cancel := ctxFor(cmd)
			defer cancel()
			svc, err := a.recordService(ctx)
			if err != nil {
				return err
			}
			res, err := svc.Submit(ctx, signer, rec)
			if res != nil && res.ContentID != "" && err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "uploaded as %s but not anchored\n", res.ContentID)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"contentId":   res.ContentID,
				"contentHash": hexutil.Encode(res.ContentHash[:]),
				"txHash":      res.TxHash,
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "record JSON file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newFetchCmd(a *app, ctxFor ctxFunc) *cobra.Command {
	var patient string
	cmd := &cobra.Command{
		Use:   "fetch <contentId>",
		Short: "Fetch and decrypt a record without checking the anchored hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := ctxFor(cmd)
			defer cancel()
			c, err := a.recordCodec()
			if err != nil {
				return err
			}
			env, err := a.store().FetchEnvelope(ctx, args[0])
			if err != nil {
				return err
			}
			rec, err := c.Open(env, patient)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&patient, "patient", "", "patient address (required)")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func newVerifyCmd(a *app, ctxFor ctxFunc) *cobra.Command {
	var patient string
	cmd := &cobra.Command{
		Use:   "verify <contentId>",
		Short: "Fetch, decrypt and check a record against its on-chain hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := ctxFor(cmd)
			defer cancel()
			svc, err := a.recordService(ctx)
			if err != nil {
				return err
			}
			rec, err := svc.Retrieve(ctx, patient, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&patient, "patient", "", "patient address (required)")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func newRecordsCmd(a *app, ctxFor ctxFunc) *cobra.Command {
	var patient, xlsx string
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List the records anchored for a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := ctxFor(cmd)
			defer cancel()
			gw, err := a.gateway(ctx, false)
			if err != nil {
				return err
			}
			refs := gw.GetMedicalRecords(ctx, patient)
			if xlsx != "" {
				data, err := records.ExportXLSX(refs)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsx, data, 0o600); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", len(refs), xlsx)
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONTENT ID\tHASH\tHOSPITAL\tANCHORED\tCODE")
			for _, r := range refs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ContentID, r.HashHex(), r.HospitalAddress,
					time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339), r.DiagnosisCode)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&patient, "patient", "", "patient address (required)")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "export to this .xlsx file instead of printing")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

// relayed 签名并通过 relayer 提交
func relayed(a *app, ctxFor ctxFunc, run func(ctx context.Context, mt *metatx.Client, signer metatx.Signer, args []string) (*metatx.Request, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		signer, err := a.signer()
		if err != nil {
			return err
		}
		mt, err := a.relayClient()
		if err != nil {
			return err
		}
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		req, err := run(ctx, mt, signer, args)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"from":   req.Forward.From,
			"nonce":  req.Forward.Nonce.String(),
			"txHash": req.TxHash,
			"state":  req.State.String(),
		})
	}
}

func newGrantCmd(a *app, ctxFor ctxFunc) *cobra.Command {
	var accessType string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "grant <accessor>",
		Short: "Grant an accessor access to the signer's records (patient key)",
		Args:  cobra.ExactArgs(1),
		RunE: relayed(a, ctxFor, func(ctx context.Context, mt *metatx.Client, signer metatx.Signer, args []string) (*metatx.Request, error) {
			var expiresAt int64
			if ttl > 0 {
				expiresAt = time.Now().Add(ttl).Unix()
			}
			return mt.GrantAccess(ctx, signer, args[0], accessType, expiresAt)
		}),
	}
	cmd.Flags().StringVar(&accessType, "type", "read", "access type")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "grant lifetime (0 = no expiry)")
	return cmd
}

func newRevokeCmd(a *app, ctxFor ctxFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <accessor>",
		Short: "Revoke an accessor's grant (patient key)",
		Args:  cobra.ExactArgs(1),
		RunE: relayed(a, ctxFor, func(ctx context.Context, mt *metatx.Client, signer metatx.Signer, args []string) (*metatx.Request, error) {
			return mt.RevokeAccess(ctx, signer, args[0])
		}),
	}
}

func newRegisterHospitalCmd(a *app, ctxFor ctxFunc) *cobra.Command {
	var name, license string
	cmd := &cobra.Command{
		Use:   "register-hospital",
		Short: "Register the signer as a hospital (hospital key)",
		RunE: relayed(a, ctxFor, func(ctx context.Context, mt *metatx.Client, signer metatx.Signer, _ []string) (*metatx.Request, error) {
			return mt.RegisterHospital(ctx, signer, name, license)
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "hospital name (required)")
	cmd.Flags().StringVar(&license, "license", "", "license number (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("license")
	return cmd
}

func newWhitelistHospitalCmd(a *app, ctxFor ctxFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "whitelist-hospital <address>",
		Short: "Whitelist a registered hospital (admin wallet, direct transaction)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := ctxFor(cmd)
			defer cancel()
			gw, err := a.gateway(ctx, true)
			if err != nil {
				return err
			}
			res := gw.WhitelistHospital(ctx, args[0])
			if !res.Success {
				if res.Error != nil {
					return res.Error
				}
				return chain.ErrChainWriteFailed
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newNonceCmd(a *app, ctxFor ctxFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "nonce <address>",
		Short: "Show the forwarder's on-chain nonce for an address",
		Long:  "Reads nonces(address) from the forwarder. Does not reserve a nonce at the relayer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := chain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			forwarder, err := chain.ParseAddress(a.cfg.Chain.ForwarderAddress)
			if err != nil {
				return fmt.Errorf("forwarder: %w", err)
			}
			ctx, cancel := ctxFor(cmd)
			defer cancel()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			n, err := relayer.NewForwarderExecutor(c, nil, forwarder, a.logger).ForwarderNonce(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatUint(n, 10))
			return nil
		},
	}
}

func newPinTokenCmd(a *app) *cobra.Command {
	var subject, scope string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "pin-token",
		Short: "Issue a bearer token for the pinstore (uses PINSTORE_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := pinstore.NewAuthenticator(a.cfg.Pinstore.JWTSecret).Issue(subject, scope, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, usually the hospital address (required)")
	cmd.Flags().StringVar(&scope, "scope", "pin", "token scope")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
