package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/app"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/service"
)

func jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "job <name>",
		Short:     "Run one deadline job now and print its report",
		Long:      "Run one deadline job now. Jobs: " + strings.Join(service.Jobs, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: service.Jobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Deadlines.Run(cmd.Context(), args[0])
			res := service.NewResult(report, err)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(res); encErr != nil {
				return encErr
			}
			if err != nil {
				return fmt.Errorf("job %s failed: %s", args[0], res.Error)
			}
			return nil
		},
	}
}
