package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/healthbridge/translator/backend/internal/model/language"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "Print the effective language catalog as JSON",
	Long: `Print the language catalog the server would use. When LANGUAGES_FILE is set the
file is parsed and validated, so this also works as a check for catalog edits.`,
	Args: cobra.NoArgs,
	RunE: runLanguages,
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}

func runLanguages(cmd *cobra.Command, _ []string) error {
	cfg, err := loadEnvironment()
	if err != nil {
		return err
	}

	langs := language.Seed()
	if cfg.Languages.File != "" {
		langs, err = language.LoadFile(cfg.Languages.File)
		if err != nil {
			return fmt.Errorf("invalid language catalog: %w", err)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(langs)
}
