package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-local/internal/app"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View the effective configuration, including values taken from the
environment and .env files.

Settings live in config.toml inside the configuration directory.`,
	Annotations: map[string]string{skipServices: "true"},
	RunE:        runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "Show current settings",
	Annotations: map[string]string{skipServices: "true"},
	RunE:        runSettingsShow,
}

var settingsInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write the default settings file",
	Annotations: map[string]string{skipServices: "true"},
	RunE:        runSettingsInit,
}

var settingsPathCmd = &cobra.Command{
	Use:         "path",
	Short:       "Print the settings file path",
	Annotations: map[string]string{skipServices: "true"},
	RunE:        runSettingsPath,
}

var settingsInitForce bool

func init() {
	settingsInitCmd.Flags().BoolVar(&settingsInitForce, "force", false, "overwrite an existing settings file")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsInitCmd)
	settingsCmd.AddCommand(settingsPathCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	cfg, s, err := app.LoadConfig(configDir)
	if err != nil {
		return err
	}

	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	st := stylesFor(cmd.OutOrStdout())
	cmd.Println(st.Muted.Render("# " + cfg.Path()))
	cmd.Print(string(data))
	return nil
}

func runSettingsInit(cmd *cobra.Command, _ []string) error {
	cfg, _, err := app.LoadConfig(configDir)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Path()); err == nil && !settingsInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfg.Path())
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	defaults := domain.DefaultSettings()
	if err := cfg.Save(&defaults); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	cmd.Printf("Wrote %s\n", cfg.Path())
	return nil
}

func runSettingsPath(cmd *cobra.Command, _ []string) error {
	cfg, _, err := app.LoadConfig(configDir)
	if err != nil {
		return err
	}
	cmd.Println(cfg.Path())
	return nil
}
