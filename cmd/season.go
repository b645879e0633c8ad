package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/joon-park/storyforge/config"
	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/guard"
	"github.com/joon-park/storyforge/internal/runner"
	"github.com/joon-park/storyforge/provider"
)

func seasonCMD() *cobra.Command {
	var cfgPath string
	var projectID string
	var from, to int
	var seedPath, outlinesPath string
	var inMemory bool

	var season = &cobra.Command{
		Use:   "season",
		Short: "Generate a span of episodes for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()

			var store continuity.Store
			if inMemory {
				store = continuity.NewMemoryStore()
			} else {
				pg, err := continuity.NewPostgresStore(ctx, cfg.Storage.Postgres.DSN())
				if err != nil {
					return err
				}
				defer pg.DB.Close()
				store = pg
			}

			if seedPath != "" {
				var seed continuity.Seed
				if err := readJSONFile(seedPath, &seed); err != nil {
					return fmt.Errorf("read seed: %w", err)
				}
				if err := store.Seed(ctx, projectID, seed); err != nil {
					return err
				}
			}
			var outlines map[int]string
			if outlinesPath != "" {
				if err := readJSONFile(outlinesPath, &outlines); err != nil {
					return fmt.Errorf("read outlines: %w", err)
				}
			}

			llm, err := provider.NewProvider(provider.Client(cfg.LLM.Provider), provider.Options{
				APIKey:      cfg.LLM.APIKey,
				Model:       cfg.LLM.Model,
				JudgeModel:  cfg.LLM.JudgeModel,
				Temperature: cfg.LLM.Temperature,
				MaxTokens:   cfg.LLM.MaxTokens,
				Timeout:     cfg.LLM.Timeout,
			})
			if err != nil {
				return err
			}
			guards, err := guard.Build(cfg.Guards.Order, cfg.Guards.Settings(), llm)
			if err != nil {
				return err
			}
			chain := guard.NewChain(guards, guard.Policy(cfg.Guards.Policy), cfg.Guards.StopOn, log.New(os.Stderr, "[GUARD] ", log.LstdFlags))

			seasons := runner.New(llm, chain, store, cfg.Retry.Controller(), cfg.Runner.Season(),
				log.New(os.Stderr, "[RUN] ", log.LstdFlags), nil)

			params := episode.GenerationParams{
				Model:       cfg.LLM.Model,
				Temperature: cfg.LLM.Temperature,
				MaxTokens:   cfg.LLM.MaxTokens,
			}
			report, runErr := seasons.RunSeason(ctx, projectID, from, to, params, outlines)
			if report != nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(report)
			}
			if runErr != nil {
				return runErr
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d episode(s) failed", report.Failed)
			}
			return nil
		},
	}
	season.Flags().StringVar(&projectID, "project", "", "project id")
	season.Flags().IntVar(&from, "from", 1, "first episode number")
	season.Flags().IntVar(&to, "to", 1, "last episode number")
	season.Flags().StringVar(&seedPath, "seed", "", "JSON file with authored anchors, facts and foreshadows")
	season.Flags().StringVar(&outlinesPath, "outlines", "", "JSON file mapping episode numbers to outlines")
	season.Flags().BoolVar(&inMemory, "memory", false, "use an in-memory continuity store (no postgres)")
	season.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	_ = season.MarkFlagRequired("project")

	return season
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
