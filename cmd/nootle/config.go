package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nootle/nootle/internal/config"
	"github.com/nootle/nootle/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Inspect and create the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		path := cfgFile
		if path == "" {
			path = config.DefaultPath(cfg.Home)
		}

		if !force {
			if _, err := os.Stat(path); err == nil {
				ok, err := ui.Confirm(fmt.Sprintf("%s exists. Overwrite?", path), false)
				if err != nil {
					fatalf("%v", err)
				}
				if !ok {
					fmt.Println("Left unchanged")
					return
				}
				force = true
			}
		}

		if err := config.WriteDefault(path, cfg.Home, force); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Run: func(cmd *cobra.Command, args []string) {
		data, err := config.Encode(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		if cfg.File != "" {
			fmt.Printf("# loaded from %s\n", cfg.File)
		}
		os.Stdout.Write(data)
	},
}

var profileCmd = &cobra.Command{
	Use:     "profile [name]",
	GroupID: "maint",
	Short:   "Show or set the local profile",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		email, _ := cmd.Flags().GetString("email")

		svc, database := openRecords()
		defer database.Close()
		ctx := cmd.Context()

		if len(args) == 0 {
			p, err := svc.Profile(ctx)
			if err != nil {
				fatalf("no profile set (use 'nootle profile <name>')")
			}
			fmt.Printf("%s <%s> %s\n", ui.RenderBold(p.Name), p.Email, ui.RenderMuted("@"+p.Slug))
			return
		}

		p, err := svc.SetProfile(ctx, args[0], email)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Profile %s %s\n", ui.RenderPass("✓"), p.Name, ui.RenderMuted("@"+p.Slug))
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	profileCmd.Flags().String("email", "", "Email address")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(profileCmd)
}
