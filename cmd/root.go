package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Podly27/CB-soutez-4RO/internal/utils"
	"github.com/Podly27/CB-soutez-4RO/pkg/cbshare"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cbsoutez",
	Short: "Contest-diary submission backend for CB radio contests.",
	Long: `cbsoutez runs the contest-diary submission backend: it imports
public contact logs from cbpmr.info share links, normalizes them into
submission fields, and serves the submission API.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cbsoutez.yaml)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".cbsoutez")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.cbsoutez.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.dbpath", "cbsoutez.sqlite")
	viper.SetDefault("import.faillog", "cbshare_failures.log")
	viper.SetDefault("import.allowed_hosts", []string{"cbpmr.info"})
	viper.SetDefault("import.connect_timeout_seconds", 8)
	viper.SetDefault("import.request_timeout_seconds", 18)

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

// newResolver builds the share-import resolver from the configured
// timeouts and failure-log path. Callers own closing the failure log.
func newResolver() (*cbshare.Resolver, *cbshare.FailureLog) {
	fetcher := &cbshare.Fetcher{
		ConnectTimeout: time.Duration(viper.GetInt("import.connect_timeout_seconds")) * time.Second,
		RequestTimeout: time.Duration(viper.GetInt("import.request_timeout_seconds")) * time.Second,
	}
	faillog := cbshare.NewFailureLog(viper.GetString("import.faillog"))
	return cbshare.NewResolver(fetcher, faillog), faillog
}
