package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mgirard/keepsake/internal/config"
	"github.com/mgirard/keepsake/internal/logging"
)

var (
	cfgPath string
	cfg     config.Config
	log     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "keepsake",
	Short: "Background memory for AI companions",
	Long: "Keepsake watches a companion's conversations and maintains its memory\n" +
		"of the people it talks to: facts, traits, topics, and relationships,\n" +
		"extracted in the background and decayed over time.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			var err error
			path, err = config.DefaultPath()
			if err != nil {
				return err
			}
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		log, err = logging.New(cfg.Logging.Level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.keepsake/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(validationsCmd)
	rootCmd.AddCommand(scanCmd)
}
