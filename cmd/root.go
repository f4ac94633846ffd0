package cmd

import (
	"os"
	"time"

	"github.com/AzielCF/az-medchat/core/config"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cfg is filled by initEnvConfig before any subcommand runs.
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "az-medchat",
	Short: "Medical consultation chat engine",
	Long: `az-medchat keeps per-conversation context for a medical LLM chat:
bounded history, token-window trimming, an LRU+TTL cache of active
conversations and durable persistence in SQL or Valkey.`,
	SilenceUsage: true,
}

func init() {
	// .env es opcional
	_ = godotenv.Load()

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()

	cobra.OnInitialize(initEnvConfig)
}

func initFlags() {
	flags := rootCmd.PersistentFlags()

	flags.BoolP("debug", "d", false,
		"hide or displaying log with --debug <true/false> | example: --debug=true")
	flags.String("db-driver", "",
		`database driver --db-driver <sqlite|postgres> | example: --db-driver=postgres`)
	flags.String("db-name", "",
		`sqlite file or postgres database name --db-name <string> | example: --db-name="storages/medchat.db"`)
	flags.String("store", "",
		`conversation store --store <gorm|valkey> | example: --store=valkey`)
	flags.String("llm-provider", "",
		`generation backend --llm-provider <tgi|openai|gemini> | example: --llm-provider=tgi`)
	flags.String("llm-url", "",
		`OpenAI-compatible endpoint --llm-url <url> | example: --llm-url="http://localhost:8080"`)
	flags.Duration("llm-timeout", 0,
		`generation timeout --llm-timeout <duration> | example: --llm-timeout=90s`)
	flags.Bool("rag", false,
		`enable retrieval over stored report embeddings --rag <true/false> | example: --rag=true`)
	flags.String("owner", "",
		`owner id for this session --owner <string> | example: --owner="dr-house"`)

	bindings := map[string]string{
		"app_debug":           "debug",
		"db_driver":           "db-driver",
		"db_name":             "db-name",
		"conversation_store":  "store",
		"llm_provider":        "llm-provider",
		"llm_base_url":        "llm-url",
		"llm_request_timeout": "llm-timeout",
		"rag_enabled":         "rag",
		"app_owner_id":        "owner",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// initEnvConfig loads configuration from environment variables and applies
// explicitly set flags on top.
func initEnvConfig() {
	viper.AutomaticEnv()

	loaded, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("[CONFIG] Failed to load configuration: %v", err)
	}

	if flagSet("debug") {
		loaded.App.Debug = viper.GetBool("app_debug")
	}
	if flagSet("db-driver") {
		loaded.Database.Driver = viper.GetString("db_driver")
	}
	if flagSet("db-name") {
		loaded.Database.Name = viper.GetString("db_name")
	}
	if flagSet("store") {
		loaded.Database.Store = viper.GetString("conversation_store")
	}
	if flagSet("llm-provider") {
		loaded.LLM.Provider = viper.GetString("llm_provider")
	}
	if flagSet("llm-url") {
		loaded.LLM.BaseURL = viper.GetString("llm_base_url")
	}
	if flagSet("llm-timeout") {
		loaded.LLM.RequestTimeout = viper.GetDuration("llm_request_timeout")
	}
	if flagSet("rag") {
		loaded.RAG.Enabled = viper.GetBool("rag_enabled")
	}
	if flagSet("owner") {
		loaded.App.OwnerID = viper.GetString("app_owner_id")
	}

	if loaded.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := loaded.Validate(); err != nil {
		logrus.Fatalf("[CONFIG] Invalid configuration: %v", err)
	}

	cfg = loaded
	logrus.WithFields(logrus.Fields(cfg.Settings())).Debug("[CONFIG] Loaded")
}

func flagSet(name string) bool {
	f := rootCmd.PersistentFlags().Lookup(name)
	return f != nil && f.Changed
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
