package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"svw.info/connections/internal/config"
	"svw.info/connections/internal/curation"
	"svw.info/connections/internal/usecase"
)

func (a *app) generateCmd() *cobra.Command {
	var (
		count int
		stage bool
		seed  int64
		daily string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Assemble, validate and persist new puzzles",
		Long: `Generates up to -n puzzles and appends them to the ledger on the days
after the latest scheduled puzzle. With --stage the validated candidates are
written to a pending batch instead and nothing is consumed.

Exits non-zero unless every requested puzzle was produced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("-n must be at least 1")
			}
			svc, st, _, err := a.openService(seed)
			if err != nil {
				return err
			}
			defer st.Close()

			rep, runErr := svc.Generate(cmd.Context(), count, usecase.GenerateOptions{Stage: stage, DailyTheme: daily})
			if rep != nil {
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if !rep.Complete() {
				return fmt.Errorf("generated %d of %d requested puzzles", rep.Generated, rep.Requested)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of puzzles to generate")
	cmd.Flags().BoolVar(&stage, "stage", false, "write candidates to a pending batch instead of the ledger")
	cmd.Flags().StringVar(&daily, "daily-theme", "", "headline stored with each generated puzzle")
	cmd.Flags().Int64Var(&seed, "seed", 0, "assembler random seed (0 = config or clock)")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	var promote bool
	cmd := &cobra.Command{
		Use:   "validate [batch-id...]",
		Short: "Validate pending candidate batches",
		Long: `Re-checks staged batches against the structural rules and the current
pool. Valid batches move to verified/, invalid ones to rejected/. With
--promote, valid puzzles are persisted to the ledger; a batch promoted only
in part moves to partial/. Promoted batches are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, st, _, err := a.openService(0)
			if err != nil {
				return err
			}
			defer st.Close()

			rep, err := svc.ValidatePending(cmd.Context(), args, promote)
			if rep != nil {
				if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if !rep.Complete() {
				return fmt.Errorf("%d pending puzzles failed validation", rep.Invalid)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&promote, "promote", false, "persist valid puzzles to the ledger")
	return cmd
}

func (a *app) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair pool flags from the puzzle ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, st, _, err := a.openService(0)
			if err != nil {
				return err
			}
			defer st.Close()

			rep, err := svc.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	var selectK int
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load curated themes from a YAML or JSON file",
		Long: `Upserts themes and their candidate words into the pool. Existing themes
with the same label and tier are reused and duplicate words are skipped.

With --select K, themes with more than K candidates are narrowed to the K
best fits by a language model (requires OPENAI_API_KEY).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, _, err := a.openService(0)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := []curation.Option{curation.WithLogger(a.logger)}
			if selectK > 0 {
				sel, err := curation.NewOpenAISelector(curation.LLMOptions{
					APIKey:  a.cfg.LLM.APIKey,
					BaseURL: a.cfg.LLM.BaseURL,
					Model:   a.cfg.LLM.Model,
					Timeout: a.cfg.GetLLMTimeout(),
					Retry:   a.cfg.LLMRetryPolicy(),
				}, a.logger)
				if err != nil {
					return err
				}
				opts = append(opts, curation.WithSelector(sel, selectK))
			}
			rep, err := curation.NewImporter(st, opts...).Import(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.logger.Info("import finished",
				zap.Int("themes", rep.Themes),
				zap.Int("words_added", rep.WordsAdded),
				zap.Int("rejected", len(rep.Rejected)))
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().IntVar(&selectK, "select", 0, "narrow large themes to K words with a language model")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show remaining pool capacity per tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, st, _, err := a.openService(0)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := svc.PoolStats(cmd.Context())
			if err != nil {
				return err
			}
			puzzles, err := svc.ListPuzzles(cmd.Context())
			if err != nil {
				return err
			}
			out := struct {
				Puzzles int `json:"puzzles"`
				Last    any `json:"last,omitempty"`
				Tiers   any `json:"tiers"`
			}{Puzzles: len(puzzles), Tiers: stats}
			if len(puzzles) > 0 {
				out.Last = puzzles[len(puzzles)-1]
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", a.configPath)
			}
			// Defaults only: secrets from the environment stay out of the file.
			if err := config.DefaultConfig().Save(a.configPath); err != nil {
				return err
			}
			a.logger.Info("config written", zap.String("path", a.configPath))
			fmt.Fprintln(cmd.OutOrStdout(), a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
