package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/javi11/rarar"
	"github.com/spf13/cobra"
)

var listJSON bool

func init() {
	listCmd := &cobra.Command{
		Use:   "list <source>",
		Short: "List contents of a RAR archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	source := args[0]
	reader, err := rarar.Open(source)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	entries, err := reader.List()
	if err != nil {
		return err
	}

	if listJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	fmt.Printf("RAR Archive: %s (RAR%d)\n", source, reader.Version())
	files, dirs := 0, 0
	for i, entry := range entries {
		if entry.IsDirectory {
			dirs++
			fmt.Printf("%3d. %s/\n", i+1, entry.Path)
			continue
		}
		files++
		fmt.Printf("%3d. %s (%s, %s)\n", i+1, entry.Path,
			humanize.IBytes(uint64(entry.UnpackedSize)), entry.MethodName())
	}
	fmt.Printf("Found %d files and %d directories\n", files, dirs)
	slog.Debug("listing complete", "bytes_transferred", reader.BytesTransferred())
	return nil
}
