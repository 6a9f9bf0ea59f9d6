package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := newDaemonClient().get("/api/status")
		if err != nil {
			return err
		}
		var st struct {
			Version            string  `json:"version"`
			Uptime             float64 `json:"uptime"`
			QueueDepth         int     `json:"queue_depth"`
			Paused             bool    `json:"paused"`
			CurrentTask        string  `json:"current_task"`
			PendingValidations int     `json:"pending_validations"`
		}
		if err := json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("parse status: %w", err)
		}

		state := "running"
		if st.Paused {
			state = "paused"
		}
		fmt.Printf("keepsake %s\n", st.Version)
		fmt.Printf("  uptime:      %s\n", time.Duration(st.Uptime*float64(time.Second)).Round(time.Second))
		fmt.Printf("  queue:       %s, depth %d\n", state, st.QueueDepth)
		if st.CurrentTask != "" {
			fmt.Printf("  in flight:   %s\n", st.CurrentTask)
		}
		fmt.Printf("  validations: %d pending\n", st.PendingValidations)
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause background task processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := newDaemonClient().post("/api/queue/pause", nil); err != nil {
			return err
		}
		fmt.Println("paused")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume background task processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := newDaemonClient().post("/api/queue/resume", nil); err != nil {
			return err
		}
		fmt.Println("resumed")
		return nil
	},
}

var validationsCmd = &cobra.Command{
	Use:   "validations",
	Short: "List and resolve pending validation requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := newDaemonClient().get("/api/validations")
		if err != nil {
			return err
		}
		var resp struct {
			Validations []struct {
				ID        string `json:"id"`
				Owner     string `json:"owner"`
				Type      string `json:"type"`
				Name      string `json:"name"`
				Origin    string `json:"origin"`
				Rationale string `json:"rationale"`
			} `json:"validations"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("parse validations: %w", err)
		}
		if len(resp.Validations) == 0 {
			fmt.Println("no pending validations")
			return nil
		}
		for _, v := range resp.Validations {
			fmt.Printf("%s  %s %s %q\n    %s\n", v.ID, v.Owner, v.Type, v.Name, v.Rationale)
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [task-id] [accept|reject]",
	Short: "Resolve one validation request",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		accept := args[1] == "accept"
		if !accept && args[1] != "reject" {
			fmt.Fprintf(os.Stderr, "verdict must be accept or reject, got %q\n", args[1])
			os.Exit(2)
		}
		body := []byte(`{"accept":` + strconv.FormatBool(accept) + `}`)
		if _, err := newDaemonClient().post("/api/validations/"+args[0]+"/resolve", body); err != nil {
			return err
		}
		fmt.Println(args[1] + "ed")
		return nil
	},
}

func init() {
	validationsCmd.AddCommand(resolveCmd)
}
