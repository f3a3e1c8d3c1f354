package main

import (
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/repochat/pkg/config"
	"github.com/Protocol-Lattice/repochat/pkg/pipeline"
	"github.com/Protocol-Lattice/repochat/pkg/session"
)

var version = "dev"

type rootFlags struct {
	config      string
	model       string
	provider    string
	suffixes    []string
	language    string
	backend     string
	k           int
	searchType  string
	temperature float32
	markdown    bool
	sources     bool
	verbose     bool
}

func newRootCmd() *cobra.Command { return newRootCmdWithFlags(&rootFlags{}) }

func newRootCmdWithFlags(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repochat [location]",
		Short: "Chat with a code repository",
		Long: `Indexes a local directory or a remote git repository and answers
questions about it, one per line, until interrupted.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, f, args)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", config.DefaultPath, "path to the YAML config file")
	pf.StringVarP(&f.model, "model", "m", "", "chat model name")
	pf.StringVar(&f.provider, "provider", "", "chat provider (openai, anthropic, gemini, ollama, dummy)")
	pf.StringSliceVarP(&f.suffixes, "suffix", "s", nil, "file suffix to index, repeatable")
	pf.StringVar(&f.language, "language", "", `parser language, or "auto" to detect by extension`)
	pf.StringVar(&f.backend, "backend", "", "vector index backend (memory, sqlite, postgres, qdrant, mongo, redis, neo4j)")
	pf.IntVar(&f.k, "k", 0, "number of chunks retrieved per question")
	pf.StringVar(&f.searchType, "search-type", "", "retrieval strategy (mmr, similarity)")
	pf.Float32Var(&f.temperature, "temperature", 0, "sampling temperature, provider default when unset")
	pf.BoolVar(&f.markdown, "markdown", false, "render answers as Markdown")
	pf.BoolVar(&f.sources, "sources", false, "list the files each answer drew on")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "log progress to stderr")

	cmd.AddCommand(newIndexCmd(f), newVersionCmd())
	return cmd
}

// loadConfig layers the config file, REPOCHAT_* variables, flags and the
// positional location, in that order.
func loadConfig(cmd *cobra.Command, f *rootFlags, args []string) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if len(args) == 1 {
		cfg.Codebase = args[0]
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Chat.Model = f.model
	}
	if flags.Changed("provider") {
		cfg.Chat.Provider = f.provider
	}
	if flags.Changed("suffix") {
		cfg.Loader.Suffixes = f.suffixes
	}
	if flags.Changed("language") {
		cfg.Loader.Language = f.language
	}
	if flags.Changed("backend") {
		cfg.Index.Backend = f.backend
	}
	if flags.Changed("k") {
		cfg.Retrieval.K = f.k
		if cfg.Retrieval.FetchK < f.k {
			cfg.Retrieval.FetchK = f.k
		}
	}
	if flags.Changed("search-type") {
		cfg.Retrieval.SearchType = f.searchType
	}
	if flags.Changed("temperature") {
		t := f.temperature
		cfg.Chat.Temperature = &t
	}
	if flags.Changed("markdown") {
		cfg.Chat.Markdown = f.markdown
	}
	if flags.Changed("sources") {
		cfg.Chat.ShowSources = f.sources
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logger returns a prefixed stderr logger when verbose, otherwise a silent one.
func logger(cmd *cobra.Command, f *rootFlags, prefix string) *log.Logger {
	if !f.verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(cmd.ErrOrStderr(), prefix, log.LstdFlags)
}

func pipelineOptions(cmd *cobra.Command, f *rootFlags) []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithOutput(cmd.OutOrStdout()),
		pipeline.WithLogger(logger(cmd, f, "")),
		pipeline.WithWarnLogger(log.New(cmd.ErrOrStderr(), "loader: ", log.LstdFlags)),
	}
}

func runChat(cmd *cobra.Command, f *rootFlags, args []string) error {
	cfg, err := loadConfig(cmd, f, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := pipeline.Setup(ctx, cfg, pipelineOptions(cmd, f)...)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := []session.Option{
		session.WithInput(cmd.InOrStdin()),
		session.WithOutput(cmd.OutOrStdout()),
		session.WithSources(cfg.Chat.ShowSources),
		session.WithLogger(logger(cmd, f, "session: ")),
	}
	if cfg.Chat.Markdown {
		r, err := session.NewMarkdownRenderer("", 100)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithRenderer(r))
	}
	return session.New(s.Orchestrator, s.Accountant, opts...).Run(ctx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("repochat version %s\n", version)
		},
	}
}

func newIndexCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "index [location]",
		Short: "Index a codebase without starting a chat",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ix, err := pipeline.Index(ctx, cfg, pipelineOptions(cmd, f)...)
			if err != nil {
				return err
			}
			defer ix.Close()

			out := cmd.OutOrStdout()
			if ix.Stats.Reused {
				fmt.Fprintf(out, "Reusing %d indexed chunks in %s\n", ix.Stats.Chunks, cfg.Index.Backend)
				return nil
			}
			fmt.Fprintf(out, "Indexed %d chunks from %d files into %s (%d skipped, %d failed)\n",
				ix.Stats.Chunks, ix.Report.Files, cfg.Index.Backend, ix.Report.Skipped, len(ix.Report.Failures))
			fmt.Fprintf(out, "Setting up codebase used %s\n", ix.Usage)
			return nil
		},
	}
}
