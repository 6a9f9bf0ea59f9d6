package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	feedPersona string
	feedHuman   string
	feedReply   string
)

var feedCmd = &cobra.Command{
	Use:   "feed [message]",
	Short: "Send one conversation exchange to the daemon",
	Long: "Feeds a human message (and optionally the persona's reply) into the\n" +
		"running daemon. The daemon records it and decides whether extraction\n" +
		"is due.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]string{
			"persona":         feedPersona,
			"human":           feedHuman,
			"human_message":   args[0],
			"persona_message": feedReply,
		})
		if err != nil {
			return err
		}
		if _, err := newDaemonClient().post("/api/exchange", body); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	feedCmd.Flags().StringVar(&feedPersona, "persona", "", "persona in the conversation (required)")
	feedCmd.Flags().StringVar(&feedHuman, "human", "", "human in the conversation (required)")
	feedCmd.Flags().StringVar(&feedReply, "reply", "", "the persona's reply, if any")
	feedCmd.MarkFlagRequired("persona")
	feedCmd.MarkFlagRequired("human")
}
