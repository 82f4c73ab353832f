package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inferedge/browsercore/internal/log"
	"github.com/inferedge/browsercore/internal/worker"
)

// NewGenerateCommand loads a model, runs one blocking generation call, and
// prints the result.
func NewGenerateCommand() *cobra.Command {
	var prompt string
	var maxTokens int

	cmd := &cobra.Command{
		Use:           "generate",
		Short:         "Run one text generation call and print the result",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			configPath, _ := cobraCmd.Root().PersistentFlags().GetString("config")
			b, err := newBootstrap(configPath)
			if err != nil {
				return err
			}
			defer b.close()

			if err := b.engine.Init(b.modelBytes, "{}"); err != nil {
				return fmt.Errorf("init engine: %w", err)
			}

			res, err := b.engine.Generate(prompt, worker.GenerateParams{MaxTokens: maxTokens})
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			log.Named("demo.generate").Info("generation complete",
				log.Int("tokensGenerated", res.TokensGenerated),
				log.Float64("tokensPerSecond", res.TokensPerSecond))
			fmt.Println(res.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 256, "maximum tokens to generate")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}
