package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cellardb/cellar/pkg/archive"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "viewer <package-file>",
	Short: "Viewer - Inspect archive package files",
	Long: `Viewer prints the entries of an archive package file as a table of
file names and sizes. It validates the package magic header and fails on
anything that is not a package.`,
	Version:      Version,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Viewer version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

const (
	nameColumn = 90
	sizeColumn = 10
)

func printSeparator(w io.Writer) {
	fmt.Fprintf(w, "+%s+%s+\n", strings.Repeat("-", nameColumn+2), strings.Repeat("-", sizeColumn+2))
}

func printRow(w io.Writer, name, size string) {
	fmt.Fprintf(w, "| %-*s | %*s |\n", nameColumn, name, sizeColumn, size)
}

func run(w io.Writer, path string) error {
	fmt.Fprintf(w, "Filename: %s\n", path)

	reader, err := archive.OpenReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	printSeparator(w)
	printRow(w, "FILE NAME", "SIZE")
	printSeparator(w)

	count := 0
	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		printRow(w, entry.Filename, fmt.Sprintf("%d", len(entry.Data)))
		count++
	}

	printSeparator(w)
	printRow(w, "ENTRIES COUNT", fmt.Sprintf("%d", count))
	printSeparator(w)

	return nil
}
