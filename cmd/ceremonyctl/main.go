package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/ruteri/election-ceremony-console/api"
	"github.com/ruteri/election-ceremony-console/cmd/flags"
	"github.com/ruteri/election-ceremony-console/electionguard"
	"github.com/ruteri/election-ceremony-console/interfaces"
	"github.com/ruteri/election-ceremony-console/storage"
	"github.com/urfave/cli/v2"
)

var flagCohort = &cli.StringFlag{
	Name:     "cohort",
	Required: true,
	Usage:    "participant cohort: trustee or encrypter",
}

var flagParticipant = &cli.StringFlag{
	Name:     "id",
	Required: true,
	Usage:    "participant id",
}

var flagElectionFile = &cli.StringFlag{
	Name:  "election-file",
	Usage: "election definition JSON",
}

var flagWait = &cli.DurationFlag{
	Name:  "wait",
	Usage: "poll until the ceremony is ready or the duration elapses",
}

func main() {
	app := &cli.App{
		Name:           "ceremonyctl",
		Usage:          "Drive a running election ceremony console",
		DefaultCommand: "status",
		Flags: []cli.Flag{
			flags.ConsoleURLFlag,
		},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "print the ceremony and application state",
				Action: func(cCtx *cli.Context) error {
					return printResult(client(cCtx).Status(cCtx.Context))
				},
			},
			{
				Name:      "election",
				Usage:     "load the election definition",
				ArgsUsage: "<election.json>",
				Action: func(cCtx *cli.Context) error {
					election, err := os.ReadFile(cCtx.Args().First())
					if err != nil {
						return err
					}
					return printResult(client(cCtx).SetElection(cCtx.Context, election))
				},
			},
			{
				Name:  "setup-keys",
				Usage: "configure the trustees and create the election",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "trustees", Required: true, Usage: "number of trustees"},
					&cli.IntFlag{Name: "threshold", Required: true, Usage: "trustees needed to decrypt"},
					flagElectionFile,
				},
				Action: func(cCtx *cli.Context) error {
					req := api.SetupKeysRequest{
						NumberOfTrustees: cCtx.Int("trustees"),
						Threshold:        cCtx.Int("threshold"),
					}
					if path := cCtx.String(flagElectionFile.Name); path != "" {
						election, err := os.ReadFile(path)
						if err != nil {
							return err
						}
						req.Election = election
					}
					return printResult(client(cCtx).SetupKeys(cCtx.Context, req))
				},
			},
			{
				Name:  "setup-encrypters",
				Usage: "set the number of encryption drives",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Required: true, Usage: "number of encrypters"},
				},
				Action: func(cCtx *cli.Context) error {
					return printResult(client(cCtx).SetupEncrypters(cCtx.Context, cCtx.Int("count")))
				},
			},
			{
				Name:  "roster",
				Usage: "list the participants of a cohort",
				Flags: []cli.Flag{flagCohort},
				Action: func(cCtx *cli.Context) error {
					cohort, err := interfaces.ParseCohort(cCtx.String(flagCohort.Name))
					if err != nil {
						return err
					}
					return printResult(client(cCtx).Roster(cCtx.Context, cohort))
				},
			},
			deviceCommand("insert", "report an inserted smartcard or drive", interfaces.DevicePresent),
			deviceCommand("remove", "report a removed smartcard or drive", interfaces.DeviceRemoved),
			{
				Name:  "save",
				Usage: "retry the write to the inserted device",
				Flags: []cli.Flag{flagCohort},
				Action: func(cCtx *cli.Context) error {
					cohort, err := interfaces.ParseCohort(cCtx.String(flagCohort.Name))
					if err != nil {
						return err
					}
					return printResult(client(cCtx).Save(cCtx.Context, cohort))
				},
			},
			{
				Name:  "ready",
				Usage: "report whether the ceremony is complete",
				Flags: []cli.Flag{flagWait},
				Action: func(cCtx *cli.Context) error {
					return waitReady(cCtx.Context, client(cCtx), cCtx.Duration(flagWait.Name))
				},
			},
			{
				Name:      "screen",
				Usage:     "resolve a console route",
				ArgsUsage: "<route>",
				Action: func(cCtx *cli.Context) error {
					return printResult(client(cCtx).Screen(cCtx.Context, cCtx.Args().First()))
				},
			},
			{
				Name:  "reset",
				Usage: "discard the ceremony and the persisted election",
				Action: func(cCtx *cli.Context) error {
					return printResult(client(cCtx).Reset(cCtx.Context))
				},
			},
			{
				Name:      "verify-keys",
				Usage:     "recover the election secret from trustee key files and check it against the stored configuration",
				ArgsUsage: "<key.json>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "storage",
						Value: "file:///var/lib/election-ceremony",
						Usage: "storage URI holding the ElectionGuard configuration",
					},
				},
				Action: verifyKeys,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func client(cCtx *cli.Context) *api.Client {
	return api.NewClient(cCtx.String(flags.ConsoleURLFlag.Name))
}

func deviceCommand(name, usage string, kind interfaces.DeviceEventKind) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{flagCohort, flagParticipant},
		Action: func(cCtx *cli.Context) error {
			cohort, err := interfaces.ParseCohort(cCtx.String(flagCohort.Name))
			if err != nil {
				return err
			}
			ev := interfaces.DeviceEvent{
				Kind:   kind,
				Cohort: cohort,
				ID:     interfaces.ParticipantID(cCtx.String(flagParticipant.Name)),
			}
			return printResult(client(cCtx).DeviceEvent(cCtx.Context, ev))
		},
	}
}

func waitReady(ctx context.Context, c *api.Client, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		ready, err := c.Ready(ctx)
		if err != nil {
			return err
		}
		if ready.Ready || time.Now().After(deadline) {
			if err := printResult(ready, nil); err != nil {
				return err
			}
			if !ready.Ready {
				return errors.New("ceremony is not ready")
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func verifyKeys(cCtx *cli.Context) error {
	if cCtx.NArg() == 0 {
		return errors.New("at least one trustee key file is required")
	}

	keys := make([][]byte, 0, cCtx.NArg())
	for _, path := range cCtx.Args().Slice() {
		key, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	secret, err := electionguard.RecoverSecret(keys)
	if err != nil {
		return fmt.Errorf("could not recover election secret: %w", err)
	}
	defer clear(secret)

	store, err := storage.NewStoreFactory(slog.Default()).StoreFor(cCtx.String("storage"))
	if err != nil {
		return err
	}
	config, err := store.Get(cCtx.Context, interfaces.ElectionGuardConfigKey)
	if err != nil {
		return fmt.Errorf("could not read ElectionGuard config: %w", err)
	}

	if err := electionguard.VerifyCommitment(config, secret); err != nil {
		return err
	}
	fmt.Println("trustee keys match the election commitment")
	return nil
}

func printResult(result any, err error) error {
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
