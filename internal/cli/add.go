package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/lore/internal/store"
)

var addFile string

var addCmd = &cobra.Command{
	Use:   "add <kind>",
	Short: "Create an entity from JSON (stdin or --file)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addFile, "file", "f", "", "Read the entity JSON from a file instead of stdin")
}

func runAdd(cmd *cobra.Command, args []string) error {
	kind, err := store.ParseKind(args[0])
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if addFile != "" {
		f, err := os.Open(addFile)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	var e store.Entity
	if err := json.NewDecoder(in).Decode(&e); err != nil {
		return fmt.Errorf("decode entity: %w", err)
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("entity name required")
	}
	e.ID = 0
	e.Kind = kind

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.CreateEntity(cmd.Context(), &e); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), e)
}
