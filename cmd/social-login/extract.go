package main

import (
	"context"
	"strings"

	"github.com/brizzai/social-login/internal/extractor"
	"github.com/brizzai/social-login/internal/login"
	"github.com/pterm/pterm"
	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"
)

var openFollowUp bool

var extractCmd = &cobra.Command{
	Use:   "extract <redirect-url>",
	Short: "Recover a login from an embedded wallet redirect URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, true)
		if err != nil {
			return err
		}

		var ex *extractor.Extractor
		stop, err := startApp(cfg, &ex)
		if err != nil {
			return err
		}
		defer stop()

		result, err := ex.Extract(context.Background(), args[0], nil)
		if err != nil {
			pterm.Error.Println(login.StatusMessage(err))
			return err
		}

		pterm.Success.Println("Login successful!")
		pterm.DefaultTable.WithData(pterm.TableData{
			{"Address", result.Address},
			{"Email", result.Email},
			{"Name", result.Name},
			{"Provider", string(result.Provider)},
		}).Render()

		location := ex.FollowUpLocation(result)
		if !openFollowUp || cfg.Pages.BaseURL == "" {
			pterm.Info.Printfln("Continue at %s", location)
			return nil
		}
		target := strings.TrimRight(cfg.Pages.BaseURL, "/") + location
		pterm.Info.Printfln("Opening %s", target)
		return open.Run(target)
	},
}

func init() {
	extractCmd.Flags().BoolVar(&openFollowUp, "open", false, "Open the follow-up page in the browser")
}
