package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dayuer/estatedesk/internal/listing"
)

var (
	extractSave   bool
	extractSource string
)

var extractCmd = &cobra.Command{
	Use:   "extract [text]",
	Short: "Parse a listing post and print the structured result",
	Long: `Parse a listing post given as arguments or on stdin. With --save the result
is stored under --source, replacing any listing parsed from the same post.`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&extractSave, "save", false, "Store the listing in the database")
	extractCmd.Flags().StringVar(&extractSource, "source", "", "Source message id used with --save")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if text == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no listing text given")
	}

	var l listing.Listing
	if extractSave {
		if extractSource == "" {
			return fmt.Errorf("--save needs --source")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, _, err := openRepository(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer repo.Close()
		if l, err = listing.NewIndexer(repo).Index(cmd.Context(), extractSource, text); err != nil {
			return err
		}
	} else {
		l = listing.Extract(text)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(l)
}
