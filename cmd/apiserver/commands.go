package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/hercules-io/hercules/internal/database"
	"github.com/hercules-io/hercules/internal/models"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "Rollback the last database migration",
		Action: func(ctx context.Context, command *cli.Command) error {
			withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB, dsn string) {
				if err := database.Migrations().RollbackLast(ctx, db); err != nil {
					log.Fatal(err)
				}
			})
			return nil
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Run one command retry and gateway liveness sweep, then exit",
		Action: func(ctx context.Context, command *cli.Command) error {
			withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB, dsn string) {
				key, err := signingKey(logger, command, true)
				if err != nil {
					log.Fatal(err)
				}
				service, err := newServiceWithKey(logger, db, key, gatewayConfig(command))
				if err != nil {
					log.Fatal(err)
				}
				result, err := service.Sweep(ctx)
				if err != nil {
					log.Fatal(err)
				}
				table := newTable()
				table.SetHeader([]string{"EXPIRED", "EXHAUSTED", "RETRIED", "STALE", "DISCONNECTED"})
				table.Append([]string{
					strconv.FormatInt(result.Expired, 10),
					strconv.FormatInt(result.Exhausted, 10),
					strconv.FormatInt(result.Retried, 10),
					strconv.FormatInt(result.Stale, 10),
					strconv.FormatInt(result.Disconnected, 10),
				})
				table.Render()
			})
			return nil
		},
	}
}

func issueCodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue-code",
		Usage: "Issue a gateway activation code",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "owner",
				Usage:    "User the redeemed gateway belongs to",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Lifetime of the code, defaults to --code-ttl",
			},
			&cli.StringFlag{
				Name:  "notes",
				Usage: "Free form notes stored with the code",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB, dsn string) {
				key, err := signingKey(logger, command, true)
				if err != nil {
					log.Fatal(err)
				}
				service, err := newServiceWithKey(logger, db, key, gatewayConfig(command))
				if err != nil {
					log.Fatal(err)
				}
				code, err := service.IssueCode(ctx, models.AddActivationCode{
					OwnerUserID: command.String("owner"),
					TTL:         models.Duration(command.Duration("ttl")),
					Notes:       command.String("notes"),
				})
				if err != nil {
					log.Fatal(err)
				}
				table := newTable()
				table.SetHeader([]string{"CODE", "OWNER", "EXPIRES AT"})
				table.Append([]string{code.Code, code.OwnerUserID, code.ExpiresAt.UTC().Format(time.RFC3339)})
				table.Render()
			})
			return nil
		},
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Print a new PEM encoded signing key for --signing-key",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "bits",
				Value: 2048,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			bits := int(command.Int("bits"))
			if bits < 2048 {
				return fmt.Errorf("--bits must be at least 2048")
			}
			key, err := rsa.GenerateKey(rand.Reader, bits)
			if err != nil {
				return err
			}
			return pem.Encode(os.Stdout, &pem.Block{
				Type:  "RSA PRIVATE KEY",
				Bytes: x509.MarshalPKCS1PrivateKey(key),
			})
		},
	}
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetBorders(tablewriter.Border{Left: true, Right: true, Top: false, Bottom: false})
	table.SetAutoWrapText(false)
	return table
}
