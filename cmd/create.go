package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var createConfigJSON string

var createCmd = &cobra.Command{
	Use:   "create <recipe-name>",
	Short: "Submit a new service from a recipe",
	Long: `Submits a batch job for the named recipe against the gateway
addressed by --server, waiting for the submission to be accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createConfigJSON, "config", "{}", "JSON object of recipe parameter overrides")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	recipeName := args[0]

	var config map[string]interface{}
	if err := json.Unmarshal([]byte(createConfigJSON), &config); err != nil {
		return fmt.Errorf("parsing --config: %w", err)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Submitting %s...", recipeName)
	s.Start()
	defer s.Stop()

	var created listedService
	err := apiPost("/api/v1/services", map[string]interface{}{
		"recipe_name": recipeName,
		"config":      config,
	}, &created)
	if err != nil {
		s.FinalMSG = text.FgRed.Sprint("Failed to submit service") + "\n"
		return err
	}

	s.FinalMSG = text.Colors{text.FgHiGreen, text.Bold}.Sprint("Submitted") +
		fmt.Sprintf(" %s (status: %s)\n", created.ID, created.Status)
	return nil
}
