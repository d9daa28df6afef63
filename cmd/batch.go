package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/modelmesh/internal/model"
)

var (
	batchFile string
	batchJSON bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit prompts from a file, one per line",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(batchFile)
		if err != nil {
			return eris.Wrapf(err, "open %s", batchFile)
		}
		defer f.Close()

		var reqs []model.Request
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			req, err := model.NewRequest("", line)
			if err != nil {
				return err
			}
			reqs = append(reqs, *req)
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrapf(err, "read %s", batchFile)
		}
		if len(reqs) == 0 {
			return eris.Errorf("%s contains no prompts", batchFile)
		}

		orc, err := initOrchestrator("batch", true)
		if err != nil {
			return err
		}
		defer orc.Close()

		results, err := orc.SubmitBatch(cmd.Context(), reqs)
		if err != nil {
			return eris.Wrap(err, "submit batch")
		}

		if batchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		completed, flagged := 0, 0
		for _, res := range results {
			if res == nil {
				continue
			}
			completed++
			if res.Result.FlaggedForReview {
				flagged++
			}
		}
		fmt.Printf("Batch complete: %d/%d succeeded, %d flagged for review\n",
			completed, len(reqs), flagged)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file of prompts, one per line")
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "emit all results as JSON")
	batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
