package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ruteri/wallet-recovery-vault/api/clients"
	"github.com/ruteri/wallet-recovery-vault/cryptoutils"
	"github.com/ruteri/wallet-recovery-vault/httpserver"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "vaultd control API address",
	EnvVars: []string{"VAULT_ADDR"},
}
var flagPassword = &cli.StringFlag{
	Name:    "password",
	Usage:   "master or backup password",
	EnvVars: []string{"VAULT_PASSWORD"},
}
var flagMFA = &cli.StringFlag{
	Name:  "mfa-code",
	Usage: "current TOTP code",
}
var flagWallet = &cli.StringFlag{
	Name:  "wallet",
	Usage: "wallet id",
}
var flagRecovery = &cli.StringFlag{
	Name:     "recovery",
	Required: true,
	Usage:    "recovery id",
}
var flagSecretFile = &cli.StringFlag{
	Name:     "secret-file",
	Required: true,
	Usage:    "file holding the secret to protect",
}
var flagGuardian = &cli.StringSliceFlag{
	Name:  "guardian",
	Usage: "guardian as email or email=Name, repeatable",
}

func main() {
	app := &cli.App{
		Name:  "vaultctl",
		Usage: "Operate a wallet vault over its control API",
		Flags: []cli.Flag{flagServer},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show vault status",
				Action: func(cCtx *cli.Context) error {
					status, err := client(cCtx).Status(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "init",
				Usage: "Initialize the vault",
				Flags: []cli.Flag{flagPassword, &cli.StringFlag{Name: "security-level", Value: "standard"}},
				Action: func(cCtx *cli.Context) error {
					level, err := interfaces.ParseSecurityLevel(cCtx.String("security-level"))
					if err != nil {
						return err
					}
					return client(cCtx).Initialize(cCtx.Context, cCtx.String(flagPassword.Name), level)
				},
			},
			{
				Name:  "unlock",
				Flags: []cli.Flag{flagPassword, flagMFA},
				Action: func(cCtx *cli.Context) error {
					return client(cCtx).Unlock(cCtx.Context, cCtx.String(flagPassword.Name), cCtx.String(flagMFA.Name))
				},
			},
			{
				Name: "lock",
				Action: func(cCtx *cli.Context) error {
					return client(cCtx).Lock(cCtx.Context)
				},
			},
			{
				Name:  "keys",
				Usage: "List vault keys",
				Action: func(cCtx *cli.Context) error {
					keys, err := client(cCtx).ListKeys(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(keys)
				},
			},
			{
				Name:  "create-key",
				Usage: "Generate a key, or import one with --secret-file",
				Flags: []cli.Flag{
					flagPassword,
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "type", Value: string(interfaces.KeyTypePrivateKey)},
					&cli.StringFlag{Name: "blockchain", Value: "ethereum"},
					&cli.StringFlag{Name: "secret-file", Usage: "import the secret from this file"},
					&cli.BoolFlag{Name: "allow-export"},
				},
				Action: func(cCtx *cli.Context) error {
					req := interfaces.NewKeyRequest{
						Name:       cCtx.String("name"),
						Type:       interfaces.KeyType(cCtx.String("type")),
						Blockchain: cCtx.String("blockchain"),
						Policy:     interfaces.KeyPolicy{AllowExport: cCtx.Bool("allow-export")},
					}
					if path := cCtx.String("secret-file"); path != "" {
						secret, err := readSecret(path)
						if err != nil {
							return err
						}
						defer cryptoutils.Wipe(secret)
						req.Secret = secret
					}
					entry, err := client(cCtx).CreateKey(cCtx.Context, cCtx.String(flagPassword.Name), req)
					if err != nil {
						return err
					}
					return printJSON(entry)
				},
			},
			{
				Name:      "export-key",
				Usage:     "Write a key's secret to --out",
				ArgsUsage: "<key-id>",
				Flags:     []cli.Flag{flagPassword, &cli.StringFlag{Name: "out", Required: true}},
				Action: func(cCtx *cli.Context) error {
					secret, err := client(cCtx).RevealKey(cCtx.Context, cCtx.Args().First(), cCtx.String(flagPassword.Name), interfaces.PurposeExport)
					if err != nil {
						return err
					}
					defer cryptoutils.Wipe(secret)
					return os.WriteFile(cCtx.String("out"), secret, 0600)
				},
			},
			{
				Name:      "delete-key",
				ArgsUsage: "<key-id>",
				Flags:     []cli.Flag{flagPassword},
				Action: func(cCtx *cli.Context) error {
					return client(cCtx).DeleteKey(cCtx.Context, cCtx.Args().First(), cCtx.String(flagPassword.Name))
				},
			},
			{
				Name:  "audit",
				Usage: "Print the audit log and verify its hash chain",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
				Action: func(cCtx *cli.Context) error {
					c := client(cCtx)
					entries, err := c.AuditLog(cCtx.Context, cCtx.Int("limit"))
					if err != nil {
						return err
					}
					if err := printJSON(entries); err != nil {
						return err
					}
					return c.VerifyAuditLog(cCtx.Context)
				},
			},
			{
				Name:  "recovery",
				Usage: "Manage recovery setups",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Flags: []cli.Flag{flagWallet},
						Action: func(cCtx *cli.Context) error {
							setups, err := client(cCtx).ListRecoveries(cCtx.Context, cCtx.String(flagWallet.Name))
							if err != nil {
								return err
							}
							return printJSON(setups)
						},
					},
					{
						Name:  "get",
						Flags: []cli.Flag{flagRecovery},
						Action: func(cCtx *cli.Context) error {
							setup, err := client(cCtx).GetRecovery(cCtx.Context, cCtx.String(flagRecovery.Name))
							if err != nil {
								return err
							}
							return printJSON(setup)
						},
					},
					{
						Name:  "setup-social",
						Usage: "Split a secret between guardians and write the shares to --shares-out",
						Flags: []cli.Flag{
							flagWallet, flagSecretFile, flagGuardian,
							&cli.IntFlag{Name: "threshold", Required: true},
							&cli.IntFlag{Name: "window-days", Usage: "close the recovery after this many days"},
							&cli.StringFlag{Name: "shares-out", Required: true},
						},
						Action: func(cCtx *cli.Context) error {
							secret, err := readSecret(cCtx.String(flagSecretFile.Name))
							if err != nil {
								return err
							}
							defer cryptoutils.Wipe(secret)

							res, err := client(cCtx).SetupSocial(cCtx.Context, httpserver.SocialSetupRequest{
								WalletID:  cCtx.String(flagWallet.Name),
								Secret:    secret,
								Guardians: parseGuardians(cCtx.StringSlice(flagGuardian.Name)),
								Threshold: cCtx.Int("threshold"),
								Metadata:  interfaces.SetupMetadata{RecoveryWindowDays: cCtx.Int("window-days")},
							})
							if err != nil {
								return err
							}
							raw, err := json.MarshalIndent(res.Shares, "", "  ")
							if err != nil {
								return err
							}
							if err := os.WriteFile(cCtx.String("shares-out"), raw, 0600); err != nil {
								return err
							}
							return printJSON(res.Setup)
						},
					},
					{
						Name: "setup-timelock",
						Flags: []cli.Flag{
							flagWallet, flagSecretFile,
							&cli.IntFlag{Name: "days", Required: true},
						},
						Action: func(cCtx *cli.Context) error {
							secret, err := readSecret(cCtx.String(flagSecretFile.Name))
							if err != nil {
								return err
							}
							defer cryptoutils.Wipe(secret)
							setup, err := client(cCtx).SetupTimelock(cCtx.Context, httpserver.TimelockSetupRequest{
								WalletID:     cCtx.String(flagWallet.Name),
								Secret:       secret,
								DurationDays: cCtx.Int("days"),
							})
							if err != nil {
								return err
							}
							return printJSON(setup)
						},
					},
					{
						Name: "setup-deadman",
						Flags: []cli.Flag{
							flagWallet, flagSecretFile, flagGuardian,
							&cli.IntFlag{Name: "inactivity-days", Required: true},
						},
						Action: func(cCtx *cli.Context) error {
							secret, err := readSecret(cCtx.String(flagSecretFile.Name))
							if err != nil {
								return err
							}
							defer cryptoutils.Wipe(secret)
							setup, err := client(cCtx).SetupDeadman(cCtx.Context, httpserver.DeadmanSetupRequest{
								WalletID:       cCtx.String(flagWallet.Name),
								Secret:         secret,
								InactivityDays: cCtx.Int("inactivity-days"),
								Guardians:      parseGuardians(cCtx.StringSlice(flagGuardian.Name)),
							})
							if err != nil {
								return err
							}
							return printJSON(setup)
						},
					},
					{
						Name:  "setup-backup",
						Flags: []cli.Flag{flagWallet, flagSecretFile, flagPassword},
						Action: func(cCtx *cli.Context) error {
							secret, err := readSecret(cCtx.String(flagSecretFile.Name))
							if err != nil {
								return err
							}
							defer cryptoutils.Wipe(secret)
							setup, err := client(cCtx).SetupBackup(cCtx.Context, httpserver.BackupSetupRequest{
								WalletID: cCtx.String(flagWallet.Name),
								Secret:   secret,
								Password: cCtx.String(flagPassword.Name),
							})
							if err != nil {
								return err
							}
							return printJSON(setup)
						},
					},
					{
						Name:  "start",
						Flags: []cli.Flag{flagRecovery},
						Action: func(cCtx *cli.Context) error {
							res, err := client(cCtx).StartRecovery(cCtx.Context, cCtx.String(flagRecovery.Name))
							if err != nil {
								return err
							}
							return printJSON(res)
						},
					},
					{
						Name:  "submit-share",
						Usage: "Submit a guardian share file written by setup-social",
						Flags: []cli.Flag{
							flagRecovery,
							&cli.StringFlag{Name: "share-file", Required: true},
							&cli.StringFlag{Name: "share-id", Usage: "pick one share from a file holding several"},
							&cli.BoolFlag{Name: "verify-only", Usage: "check the share without submitting it"},
						},
						Action: func(cCtx *cli.Context) error {
							share, err := readShare(cCtx.String("share-file"), cCtx.String("share-id"))
							if err != nil {
								return err
							}
							defer cryptoutils.Wipe(share.ShareValue)

							c := client(cCtx)
							recoveryID := cCtx.String(flagRecovery.Name)
							if cCtx.Bool("verify-only") {
								return c.VerifyShare(cCtx.Context, recoveryID, share.ID, share.ShareValue)
							}
							res, err := c.SubmitShare(cCtx.Context, recoveryID, share.ID, share.ShareValue)
							if err != nil {
								return err
							}
							return printJSON(res)
						},
					},
					{
						Name:  "complete",
						Usage: "Release a recovered secret to --out",
						Flags: []cli.Flag{flagRecovery, flagPassword, &cli.StringFlag{Name: "out", Required: true}},
						Action: func(cCtx *cli.Context) error {
							secret, err := client(cCtx).CompleteRecovery(cCtx.Context, cCtx.String(flagRecovery.Name), cCtx.String(flagPassword.Name))
							if err != nil {
								return explain(err)
							}
							defer cryptoutils.Wipe(secret)
							return os.WriteFile(cCtx.String("out"), secret, 0600)
						},
					},
					{
						Name:  "cancel",
						Flags: []cli.Flag{flagRecovery},
						Action: func(cCtx *cli.Context) error {
							return client(cCtx).CancelRecovery(cCtx.Context, cCtx.String(flagRecovery.Name))
						},
					},
					{
						Name:  "sweep",
						Usage: "Run the recovery supervisor once",
						Action: func(cCtx *cli.Context) error {
							report, err := client(cCtx).Sweep(cCtx.Context)
							if err != nil {
								return err
							}
							return printJSON(report)
						},
					},
				},
			},
			{
				Name:  "heartbeat",
				Usage: "Record wallet activity, postponing dead-man switches",
				Flags: []cli.Flag{&cli.StringFlag{Name: "wallet", Required: true}},
				Action: func(cCtx *cli.Context) error {
					return client(cCtx).RecordActivity(cCtx.Context, cCtx.String("wallet"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func client(cCtx *cli.Context) *clients.VaultClient {
	return clients.NewVaultClient(cCtx.String(flagServer.Name))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readSecret(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	secret := []byte(strings.TrimRight(string(raw), "\r\n"))
	cryptoutils.Wipe(raw)
	return secret, nil
}

func readShare(path, shareID string) (interfaces.RecoveryShare, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return interfaces.RecoveryShare{}, err
	}
	defer cryptoutils.Wipe(raw)

	var shares []interfaces.RecoveryShare
	if err := json.Unmarshal(raw, &shares); err != nil {
		var single interfaces.RecoveryShare
		if err := json.Unmarshal(raw, &single); err != nil {
			return interfaces.RecoveryShare{}, fmt.Errorf("failed to parse share file: %w", err)
		}
		shares = []interfaces.RecoveryShare{single}
	}

	if shareID == "" && len(shares) == 1 {
		return shares[0], nil
	}
	for _, share := range shares {
		if share.ID == shareID {
			return share, nil
		}
	}
	return interfaces.RecoveryShare{}, fmt.Errorf("share %q not found in %s", shareID, path)
}

// parseGuardians accepts "email" or "email=Name".
func parseGuardians(values []string) []interfaces.Guardian {
	guardians := make([]interfaces.Guardian, 0, len(values))
	for _, v := range values {
		email, name, _ := strings.Cut(v, "=")
		guardians = append(guardians, interfaces.Guardian{Email: strings.TrimSpace(email), Name: strings.TrimSpace(name)})
	}
	return guardians
}

func explain(err error) error {
	var apiErr *clients.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Response.RemainingDays > 0:
		return fmt.Errorf("%w (%d days remaining)", err, apiErr.Response.RemainingDays)
	case apiErr.Response.RetryAfter > 0:
		return fmt.Errorf("%w (retry in %d seconds)", err, apiErr.Response.RetryAfter)
	}
	return err
}
