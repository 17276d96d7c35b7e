package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ramory-l/gopusher/apps"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage apps stored in a bolt database",
}

var appsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or update an app",
	Long: `Create or update an app in the bolt app store.

Missing id, key or secret values are generated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")
		id, _ := cmd.Flags().GetString("id")
		key, _ := cmd.Flags().GetString("key")
		secret, _ := cmd.Flags().GetString("secret")
		disabled, _ := cmd.Flags().GetBool("disabled")
		clientMessages, _ := cmd.Flags().GetBool("client-messages")
		maxConnections, _ := cmd.Flags().GetInt("max-connections")
		maxClientEvents, _ := cmd.Flags().GetInt("max-client-events")

		if id == "" {
			id = uuid.NewString()
		}
		if key == "" {
			key = randomToken()
		}
		if secret == "" {
			secret = randomToken()
		}

		store, err := apps.NewBoltManager(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		app := &apps.App{
			ID:                   id,
			Key:                  key,
			Secret:               secret,
			Enabled:              !disabled,
			EnableClientMessages: clientMessages,
			Limits: apps.Limits{
				MaxConnections:           maxConnections,
				MaxClientEventsPerSecond: maxClientEvents,
			},
		}
		if err := store.Put(app); err != nil {
			return fmt.Errorf("failed to save app: %w", err)
		}

		fmt.Println("✓ App saved")
		fmt.Printf("  ID:     %s\n", app.ID)
		fmt.Printf("  Key:    %s\n", app.Key)
		fmt.Printf("  Secret: %s\n", app.Secret)
		return nil
	},
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")

		store, err := apps.NewBoltManager(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.List()
		if err != nil {
			return fmt.Errorf("failed to list apps: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No apps found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKEY\tENABLED\tCLIENT EVENTS\tMAX CONNECTIONS")
		for _, app := range list {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\n",
				app.ID, app.Key, app.Enabled, app.EnableClientMessages, app.MaxConnections)
		}
		return w.Flush()
	},
}

var appsRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")

		store, err := apps.NewBoltManager(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to remove app %s: %w", args[0], err)
		}
		fmt.Printf("✓ App %s removed\n", args[0])
		return nil
	},
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func init() {
	appsCmd.AddCommand(appsAddCmd)
	appsCmd.AddCommand(appsListCmd)
	appsCmd.AddCommand(appsRemoveCmd)

	appsCmd.PersistentFlags().String("db", "gopusher.db", "Path to the bolt app database")

	appsAddCmd.Flags().String("id", "", "App id (generated when empty)")
	appsAddCmd.Flags().String("key", "", "App key (generated when empty)")
	appsAddCmd.Flags().String("secret", "", "App secret (generated when empty)")
	appsAddCmd.Flags().Bool("disabled", false, "Create the app disabled")
	appsAddCmd.Flags().Bool("client-messages", false, "Allow client events")
	appsAddCmd.Flags().Int("max-connections", 0, "Connection quota (0 uses the server default, -1 is unlimited)")
	appsAddCmd.Flags().Int("max-client-events", 0, "Client events per second (0 uses the server default)")
}
