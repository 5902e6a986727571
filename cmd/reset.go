package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/blinkscan/internal/classifier"
	"github.com/andresmejia3/blinkscan/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetTables    bool
	resetModel     bool
	resetYes       bool
	resetModelPath string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Trained Model)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing EVERYTHING
		if !resetTables && !resetModel {
			resetTables = true
			resetModel = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetTables && (resetYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP all database tables?")) {
			db, err := openDB(cmd.Context())
			if err != nil {
				utils.ShowError("Failed to connect to database", err, nil)
				return err
			}
			fmt.Println("🗑️  Clearing Database...")
			if err := db.Reset(cmd.Context()); err != nil {
				utils.ShowError("Failed to reset database", err, nil)
				return err
			}
		}

		if resetModel && (resetYes || confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete the model %s?", resetModelPath))) {
			fmt.Println("🗑️  Removing Trained Model...")
			for _, f := range classifier.ModelFiles(resetModelPath) {
				removePath(f)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetTables, "tables", false, "Drop the PostgreSQL tables")
	resetCmd.Flags().BoolVar(&resetModel, "model-file", false, "Delete the trained model file")
	resetCmd.Flags().StringVarP(&resetModelPath, "model", "m", classifier.DefaultModelPath, "Model file removed by --model-file")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removePath(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
