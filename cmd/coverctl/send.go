package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <operation>",
	Short: "Publish any command from a JSON object",
	Long: "Publishes a command whose fields are read from --data or --file (\"-\" for stdin). " +
		"request_id, caller and timestamp come from the global flags.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		file, _ := cmd.Flags().GetString("file")

		raw := []byte(data)
		switch {
		case file == "-":
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return eris.Wrap(err, "read stdin")
			}
			raw = b
		case file != "":
			b, err := os.ReadFile(file)
			if err != nil {
				return eris.Wrapf(err, "read %s", file)
			}
			raw = b
		case data == "":
			raw = []byte("{}")
		}

		fields := map[string]any{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return eris.Wrap(err, "command fields must be a JSON object")
		}
		return send(cmd, args[0], fields)
	},
}

func init() {
	sendCmd.Flags().String("data", "", "command fields as a JSON object")
	sendCmd.Flags().String("file", "", "read command fields from a file, - for stdin")
	rootCmd.AddCommand(sendCmd)
}
