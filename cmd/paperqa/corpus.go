package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kalambet/paperqa/internal/config"
	"github.com/kalambet/paperqa/internal/corpus"
	"github.com/kalambet/paperqa/internal/storage"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage corpora and their chunks",
}

var corpusRegisterCmd = &cobra.Command{
	Use:   "register [id]",
	Short: "Register a corpus, or every corpus in a seed file",
	Long: `Register a corpus and the embedding model its chunks are indexed with.

Examples:
  paperqa corpus register pubmed --model nomic-embed-text --dims 768 --name "PubMed abstracts"
  paperqa corpus register --file corpora.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" && len(args) == 0 {
			return fmt.Errorf("a corpus id or --file is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if file != "" {
			seeded, err := a.registry.Seed(cmd.Context(), file)
			if err != nil {
				return err
			}
			for _, c := range seeded {
				printSuccess("Registered %s (%s, %d dims)", c.ID, c.EmbeddingModel, c.Dimensions)
			}
			return nil
		}

		name, _ := cmd.Flags().GetString("name")
		model, _ := cmd.Flags().GetString("model")
		dims, _ := cmd.Flags().GetInt("dims")
		if model == "" {
			model = cfg.Ollama.EmbedModel
		}
		c := storage.Corpus{ID: args[0], DisplayName: name, EmbeddingModel: model, Dimensions: dims}
		if err := a.registry.Register(cmd.Context(), c); err != nil {
			return err
		}
		printSuccess("Registered %s (%s, %d dims)", c.ID, c.EmbeddingModel, c.Dimensions)
		return nil
	},
}

var corpusImportCmd = &cobra.Command{
	Use:   "import <id> <glob>",
	Short: "Chunk, embed and store documents matching a glob",
	Long: `Import .txt, .md and .pdf documents, or .jsonl files of pre-chunked records,
into a registered corpus.

Examples:
  paperqa corpus import pubmed 'abstracts/**/*.jsonl'
  paperqa corpus import reviews 'papers/*.pdf'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log)
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		c, err := a.registry.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if a.qdrant != nil {
			if err := a.qdrant.EnsureCollection(ctx, c.Dimensions); err != nil {
				return err
			}
		}

		printStep("Importing %s into %s", args[1], c.ID)
		stats, err := corpus.NewImporter(a.store, a.ollama, a.chunks).Import(ctx, c.ID, args[1])
		if err != nil {
			return err
		}
		printSuccess("Imported %d chunk(s) from %d document(s) in %d file(s)", stats.Chunks, stats.Documents, stats.Files)
		if len(stats.Skipped) > 0 {
			printWarning("Skipped %d file(s)", len(stats.Skipped))
		}
		return nil
	},
}

var corpusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered corpora",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		list, err := a.registry.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			printWarning("No corpora registered")
			return nil
		}
		for _, c := range list {
			n, err := a.chunks.Count(ctx, c.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s/%d  %d chunks\n",
				colorize(styleBold, c.ID), c.DisplayName, c.EmbeddingModel, c.Dimensions, n)
		}
		return nil
	},
}

func init() {
	corpusRegisterCmd.Flags().String("file", "", "YAML seed file listing corpora")
	corpusRegisterCmd.Flags().String("name", "", "display name")
	corpusRegisterCmd.Flags().String("model", "", "embedding model (default: ollama.embed_model)")
	corpusRegisterCmd.Flags().Int("dims", 768, "embedding dimensions")

	corpusCmd.AddCommand(corpusRegisterCmd)
	corpusCmd.AddCommand(corpusImportCmd)
	corpusCmd.AddCommand(corpusListCmd)
}
