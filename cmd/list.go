package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// listResourceTypes maps a resource alias to the gateway path it lists.
var listResourceTypes = map[string]string{
	"service":        "/api/v1/services",
	"services":       "/api/v1/services",
	"service-group":  "/api/v1/service-groups",
	"service-groups": "/api/v1/service-groups",
	"recipe":         "/api/v1/recipes",
	"recipes":        "/api/v1/recipes",
}

var listCmd = &cobra.Command{
	Use:   "list {services|service-groups|recipes}",
	Short: "List resources from a running aifactory gateway",
	Long: `Lists services, replica groups, or recipes known to the gateway
addressed by --server (default http://localhost:8080).`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	path, ok := listResourceTypes[args[0]]
	if !ok {
		return fmt.Errorf("unknown resource type %q: want service(s), service-group(s), or recipe(s)", args[0])
	}

	switch path {
	case "/api/v1/services":
		return listServices()
	case "/api/v1/service-groups":
		return listServiceGroups()
	default:
		return listRecipes()
	}
}

type listedService struct {
	ID         string `json:"id"`
	RecipePath string `json:"recipe_path"`
	Category   string `json:"category"`
	Status     string `json:"status"`
}

func listServices() error {
	var services []listedService
	if err := apiGet("/api/v1/services", &services); err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("ID"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("RECIPE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("CATEGORY"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("STATUS"),
	})
	for _, svc := range services {
		t.AppendRow(table.Row{svc.ID, svc.RecipePath, svc.Category, svc.Status})
	}
	t.Render()
	fmt.Printf("\n%s %d %s\n", text.FgHiBlue.Sprint("Total:"), len(services), text.FgHiBlue.Sprint("services"))
	return nil
}

type listedGroup struct {
	ID         string   `json:"id"`
	RecipePath string   `json:"recipe_path"`
	JobIDs     []string `json:"job_ids"`
}

func listServiceGroups() error {
	var groups []listedGroup
	if err := apiGet("/api/v1/service-groups", &groups); err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("ID"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("RECIPE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("REPLICAS"),
	})
	for _, g := range groups {
		t.AppendRow(table.Row{g.ID, g.RecipePath, len(g.JobIDs)})
	}
	t.Render()
	fmt.Printf("\n%s %d %s\n", text.FgHiBlue.Sprint("Total:"), len(groups), text.FgHiBlue.Sprint("service groups"))
	return nil
}

type listedRecipe struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

func listRecipes() error {
	var recipes []listedRecipe
	if err := apiGet("/api/v1/recipes", &recipes); err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("NAME"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("PATH"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("CATEGORY"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("DESCRIPTION"),
	})
	for _, r := range recipes {
		t.AppendRow(table.Row{r.Name, r.Path, r.Category, r.Description})
	}
	t.Render()
	fmt.Printf("\n%s %d %s\n", text.FgHiBlue.Sprint("Total:"), len(recipes), text.FgHiBlue.Sprint("recipes"))
	return nil
}
