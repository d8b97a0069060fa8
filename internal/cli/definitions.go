package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sbenjam1n/surveyflow/internal/survey"
)

const exampleSurvey = `id: example
title: Example survey
sections:
  - id: about
    title: About you
    items:
      - field: name
        type: short_text
        label: Your name
      - field: hasCar
        type: boolean
        label: I own a car
    validations:
      name:
        required: true

  - id: car
    title: Your car
    dependencies:
      hasCar:
        include_values: [true]
    items:
      - field: brand
        type: option
        value: vw
        label: Volkswagen
      - field: brand
        type: option
        value: other
        label: Other
      - field: mileage
        type: numeric
        scale: 1
        label: Yearly mileage (thousand km)
    validations:
      brand:
        required: true
      mileage:
        min_value: 0

  - id: wrapup
    title: Anything else?
    items:
      - field: comment
        type: long_text
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize storage and write an example survey",
	Long:  "Initialize project: surveys/example.yaml, database schema, Redis consumer group",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		dir := filepath.Join(projectRoot(), "surveys")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create surveys/: %w", err)
		}
		examplePath := filepath.Join(dir, "example.yaml")
		if _, err := os.Stat(examplePath); os.IsNotExist(err) {
			if err := os.WriteFile(examplePath, []byte(exampleSurvey), 0644); err != nil {
				return fmt.Errorf("create example survey: %w", err)
			}
			fmt.Println("Created surveys/example.yaml")
		} else {
			fmt.Println("surveys/example.yaml already exists")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if m, ok := st.(interface {
			Migrate(ctx context.Context, dir string) error
		}); ok {
			if err := m.Migrate(ctx, migrationsDir()); err != nil {
				return err
			}
			fmt.Println("Applied PostgreSQL migrations")
		} else {
			fmt.Printf("SQLite schema ready at %s\n", cfg.SQLitePath)
		}

		q, err := openQueue()
		if err != nil {
			return err
		}
		if q == nil {
			fmt.Println("Redis not configured, skipping consumer group")
			return nil
		}
		defer q.Close()
		if err := q.EnsureStreams(ctx); err != nil {
			fmt.Printf("Warning: Redis setup failed: %v\n", err)
		} else {
			fmt.Println("Created Redis consumer group")
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Compile and store survey definitions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reset, _ := cmd.Flags().GetBool("reset")
		ctx := context.Background()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		for _, path := range args {
			s, err := loadAndCompile(path)
			if err != nil {
				return err
			}
			if err := st.SaveDefinition(ctx, s, reset); err != nil {
				return err
			}
			fmt.Printf("Imported %s (%d section(s)) from %s\n", s.ID, len(s.Sections), path)
		}
		return nil
	},
}

var lintCmd = &cobra.Command{
	Use:   "lint <file>...",
	Short: "Report authoring problems in survey definitions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			_, err := loadAndCompile(path)
			var defErr *survey.DefinitionError
			switch {
			case errors.As(err, &defErr):
				failed++
				fmt.Printf("%s %s\n", failStyle.Render("FAIL"), path)
				for _, p := range defErr.Problems {
					fmt.Printf("  - %s\n", p)
				}
			case err != nil:
				failed++
				fmt.Printf("%s %s\n  - %v\n", failStyle.Render("FAIL"), path, err)
			default:
				fmt.Printf("%s %s\n", passStyle.Render("OK  "), path)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d definition(s) have problems", failed, len(args))
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored surveys",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		surveys, err := st.ListSurveys(ctx)
		if err != nil {
			return err
		}
		if len(surveys) == 0 {
			fmt.Println("No surveys. Import one with: survey import <file>")
			return nil
		}
		fmt.Println(headerStyle.Render(fmt.Sprintf("%-20s %-14s %-20s %s", "ID", "SECTION", "UPDATED", "TITLE")))
		for _, s := range surveys {
			section := s.Section
			if section == "" {
				section = "-"
			}
			fmt.Printf("%-20s %-14s %-20s %s\n", s.ID, section, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Title)
		}
		return nil
	},
}

func loadAndCompile(path string) (*survey.Survey, error) {
	s, err := survey.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := s.Compile(); err != nil {
		return nil, err
	}
	return s, nil
}

func init() {
	importCmd.Flags().Bool("reset", false, "Discard stored answers for surveys that already exist")
}
