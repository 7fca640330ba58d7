package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"recipegen/internal/config"
	"recipegen/internal/llm"
	"recipegen/internal/recipe"
	"recipegen/internal/repair"
	"recipegen/internal/schema"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	cfgPath string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "recipectl",
		Short:         "Generate, repair and manage schema-checked recipes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgPath, "config", "", "config file path (default $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "log pipeline events to stderr")

	root.AddCommand(newGenerateCmd(opts))
	root.AddCommand(newRepairCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newSearchCmd(opts))
	root.AddCommand(newShowCmd(opts))
	root.AddCommand(newDeleteCmd(opts))
	root.AddCommand(newModelsCmd(opts))

	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.cfgPath == "" {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(o.cfgPath)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *rootOptions) openStore() (recipe.RecipeStore, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return recipe.NewSQLiteStore(cfg.Database.DSN)
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		req         recipe.Request
		temperature float64
		maxTokens   int
		save        bool
		userID      string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a recipe and recover it into schema-valid JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			var sink recipe.EventSink
			if opts.verbose {
				sink = recipe.LogSink{
					Logger: slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})),
					Level:  slog.LevelDebug,
				}
			}
			svc, err := recipe.NewServiceFromConfig(&cfg.LLM, recipe.Options{
				RemoteRepair: cfg.Pipeline.RemoteRepair,
				Timeout:      cfg.Pipeline.Timeout,
				Sink:         sink,
			})
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}
			if cmd.Flags().Changed("max-tokens") {
				req.MaxTokens = &maxTokens
			}

			resp, err := svc.Generate(cmd.Context(), &req)
			if err != nil {
				printFailure(cmd.ErrOrStderr(), err)
				return err
			}

			if save {
				id, err := saveResponse(cmd.Context(), cfg, resp, userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "saved", id)
			}
			return writeIndented(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVarP(&req.UserPrompt, "prompt", "p", "", "user prompt")
	cmd.Flags().StringVar(&req.SystemPrompt, "system", "", "system prompt (default: JSON-only instruction)")
	cmd.Flags().StringVar(&req.ModelID, "model", "", "model id (default: provider default)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "completion token limit")
	cmd.Flags().BoolVar(&save, "save", false, "save the recipe to the database")
	cmd.Flags().StringVar(&userID, "user", "", "owner user id when saving")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func saveResponse(ctx context.Context, cfg *config.Config, resp *recipe.Response, userID string) (string, error) {
	store, err := recipe.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return "", err
	}
	defer store.Close()

	rec, err := recipe.NewRecord(resp.Parsed, userID)
	if err != nil {
		return "", err
	}
	return store.Save(ctx, rec)
}

func printFailure(w io.Writer, err error) {
	var re *recipe.RecoveryError
	if !errors.As(err, &re) {
		return
	}
	for _, v := range re.Violations {
		fmt.Fprintln(w, "violation:", v.String())
	}
	if re.Repaired != "" {
		fmt.Fprintln(w, "repaired text:", re.Repaired)
	}
}

func newRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair [file]",
		Short: "Apply local structural repair to model output (file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), repair.Repair(text))
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate JSON against the recipe v1 schema (file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			value, err := schema.Decode(text)
			if err != nil {
				return fmt.Errorf("%w: %v", recipe.ErrParse, err)
			}
			violations := schema.Validate(value, schema.RecipeV1())
			if len(violations) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}
			for _, v := range violations {
				fmt.Fprintln(cmd.OutOrStdout(), v.String())
			}
			return fmt.Errorf("%w: %d violation(s)", recipe.ErrSchema, len(violations))
		},
	}
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

type listFlags struct {
	limit  int
	offset int
	userID string
}

func (f *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.limit, "limit", recipe.DefaultListLimit, "max rows")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "rows to skip")
	cmd.Flags().StringVar(&f.userID, "user", "", "only show this user's and unowned recipes")
}

func (f *listFlags) filter() recipe.ListFilter {
	return recipe.ListFilter{UserID: f.userID, Limit: f.limit, Offset: f.offset}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved recipes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.List(cmd.Context(), lf.filter())
			if err != nil {
				return err
			}
			return writeTable(cmd.OutOrStdout(), recs)
		},
	}
	lf.register(cmd)
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search saved recipes by title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Search(cmd.Context(), strings.Join(args, " "), lf.filter())
			if err != nil {
				return err
			}
			return writeTable(cmd.OutOrStdout(), recs)
		},
	}
	lf.register(cmd)
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved recipe as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), args[0], userID)
			if err != nil {
				return err
			}
			r, err := rec.Recipe()
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "acting user id")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ok, err := store.Delete(cmd.Context(), args[0], userID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", recipe.ErrNotFound, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "acting user id")
	return cmd
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List providers and their supported models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			active := cfg.LLM.Name()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tDEFAULT\tMODELS")
			for _, name := range llm.Providers() {
				label := name
				if name == active {
					label += "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", label, llm.DefaultModel(name), strings.Join(llm.SupportedModels(name), ","))
			}
			return tw.Flush()
		},
	}
}

func writeTable(w io.Writer, recs []recipe.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSERVINGS\tDIFFICULTY\tTOTAL_MIN\tCREATED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n",
			r.ID, r.Title, r.Servings, r.Difficulty, r.TotalMin, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
