package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joon-park/storyforge/config"
	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/guard"
	"github.com/joon-park/storyforge/provider"
)

func validateCMD() *cobra.Command {
	var cfgPath string
	var draftPath, seedPath string
	var withJudge bool

	var validate = &cobra.Command{
		Use:   "validate",
		Short: "Run the guard chain over a draft file without committing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()

			var draft episode.Draft
			if err := readJSONFile(draftPath, &draft); err != nil {
				return fmt.Errorf("read draft: %w", err)
			}

			store := continuity.NewMemoryStore()
			if seedPath != "" {
				var seed continuity.Seed
				if err := readJSONFile(seedPath, &seed); err != nil {
					return fmt.Errorf("read seed: %w", err)
				}
				if err := store.Seed(ctx, draft.ProjectID, seed); err != nil {
					return err
				}
			}

			order := cfg.Guards.Order
			if len(order) == 0 {
				order = guard.DefaultOrder
			}
			var judge guard.Judge
			if withJudge {
				llm, err := provider.NewProvider(provider.Client(cfg.LLM.Provider), provider.Options{
					APIKey:      cfg.LLM.APIKey,
					Model:       cfg.LLM.Model,
					JudgeModel:  cfg.LLM.JudgeModel,
					Timeout:     cfg.LLM.Timeout,
					MaxTokens:   cfg.LLM.MaxTokens,
					Temperature: cfg.LLM.Temperature,
				})
				if err != nil {
					return err
				}
				judge = llm
			} else {
				order = withoutGuard(order, "critique")
			}

			guards, err := guard.Build(order, cfg.Guards.Settings(), judge)
			if err != nil {
				return err
			}
			chain := guard.NewChain(guards, guard.PolicyCollectAll, "", nil)

			snap, err := store.Snapshot(ctx, draft.ProjectID)
			if err != nil {
				return err
			}
			res, err := chain.Run(ctx, &draft, snap)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.OverallPassed {
				return fmt.Errorf("draft rejected by %v", res.FailedGuards())
			}
			return nil
		},
	}
	validate.Flags().StringVar(&draftPath, "draft", "", "JSON file holding the draft to check")
	validate.Flags().StringVar(&seedPath, "seed", "", "JSON file with continuity records to check against")
	validate.Flags().BoolVar(&withJudge, "judge", false, "include the LLM critique pass")
	validate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	_ = validate.MarkFlagRequired("draft")

	return validate
}

func withoutGuard(order []string, name string) []string {
	out := make([]string, 0, len(order))
	for _, g := range order {
		if g != name {
			out = append(out, g)
		}
	}
	return out
}
