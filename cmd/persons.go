package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-greeter/internal/database"
)

var personsCmd = &cobra.Command{
	Use:   "persons",
	Short: "List the persons stored in the database",
	Args:  cobra.NoArgs,
	RunE:  runPersons,
}

func init() {
	rootCmd.AddCommand(personsCmd)

	personsCmd.Flags().Bool("json", false, "Output as JSON")
}

type personOutput struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Occupation string `json:"occupation,omitempty"`
	Age        int    `json:"age,omitempty"`
	Images     int    `json:"images"`
}

func runPersons(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeAll(logger, store.Close)

	persons, err := store.ListPersons(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persons: %w", err)
	}

	if jsonOutput {
		out := make([]personOutput, 0, len(persons))
		for _, p := range persons {
			out = append(out, personOutput{ID: p.ID, Name: p.Name, Occupation: p.Occupation, Age: p.Age, Images: p.ImageCount})
		}
		return outputJSON(out)
	}

	if len(persons) == 0 {
		fmt.Println("No persons registered")
		return nil
	}
	printPersons(persons)
	return nil
}

func printPersons(persons []database.Person) {
	fmt.Printf("%-6s %-30s %-20s %-8s %s\n", "ID", "NAME", "OCCUPATION", "AGE", "IMAGES")
	total := 0
	for _, p := range persons {
		id := p.Identity()
		fmt.Printf("%-6d %-30s %-20s %-8s %d\n", p.ID, p.Name, id.OccupationString(), id.AgeString(), p.ImageCount)
		total += p.ImageCount
	}
	fmt.Printf("\n%d persons, %d images\n", len(persons), total)
}
