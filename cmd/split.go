package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"meshbot/pkg/mesh"
	"meshbot/pkg/split"

	"github.com/spf13/cobra"
)

var splitMaxBytes int

var splitCmd = &cobra.Command{
	Use:   "split [text]",
	Short: "Show how a reply would be split for the mesh",
	Long:  "Splits text the way outbound replies are split and prints each part with its byte count. Reads stdin when no text is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := resolveSplitText(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if splitMaxBytes < 1 {
			return fmt.Errorf("--max-bytes must be positive, got %d", splitMaxBytes)
		}

		printParts(cmd.OutOrStdout(), split.Split(text, splitMaxBytes))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(splitCmd)
	splitCmd.Flags().IntVarP(&splitMaxBytes, "max-bytes", "m", mesh.MaxMessageBytes, "byte budget per part, prefix included")
}

func resolveSplitText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		if text := strings.TrimSpace(strings.Join(args, " ")); text != "" {
			return text, nil
		}
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("no text to split")
	}

	return text, nil
}

func printParts(w io.Writer, parts []split.Part) {
	for _, part := range parts {
		wire := part.String()
		fmt.Fprintf(w, "%3d bytes | %s\n", len(wire), wire)
	}
}
