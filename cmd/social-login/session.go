package main

import (
	"context"

	"github.com/brizzai/social-login/internal/session"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the stored login",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored login",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, stop, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer stop()

		result, ok := store.Read(context.Background())
		if !ok {
			pterm.Info.Println("No stored login")
			return nil
		}
		pterm.DefaultTable.WithData(pterm.TableData{
			{"Key", store.Key()},
			{"Address", result.Address},
			{"Email", result.Email},
			{"Name", result.Name},
			{"Provider", string(result.Provider)},
			{"Status", string(result.Status)},
		}).Render()
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored login",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, stop, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer stop()

		if err := store.Clear(context.Background()); err != nil {
			return err
		}
		pterm.Success.Println("Stored login cleared")
		return nil
	},
}

func openStore(cmd *cobra.Command) (*session.Store, func(), error) {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return nil, nil, err
	}
	var store *session.Store
	stop, err := startApp(cfg, &store)
	if err != nil {
		return nil, nil, err
	}
	return store, stop, nil
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd, sessionClearCmd)
}
