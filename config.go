package gridsub

import (
	"github.com/spf13/viper"
)

func loadConfig() {
	viper.SetConfigName("gridsubrc")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.gridsub")

	setupDefaults()

	viper.ReadInConfig()

	viper.SetEnvPrefix("gridsub")
	viper.AutomaticEnv()
}

func setupDefaults() {
	defaultSettings := map[string]interface{}{
		"user":              "",
		"group":             "annie",
		"input_path":        "",
		"output_path":       "",
		"raw_data_path":     "/pnfs/annie/persistent/raw/raw/",
		"part_pattern":      "RAWDataR%sS0p%d",
		"processed_pattern": "ProcessedData_PMTMRDLAPPD_R%sS0p%d",
		"beamdb_suffix":     "_beamdb",
		"tarball_name":      "MyToolAnalysis_grid.tar.gz",
		"toolanalysis_name": "MyToolAnalysis",
		"staging_location":  "", // Defaults to input_path
		"scheduler_command": "jobsub_submit",
		"memory":            "4000MB",
		"disk":              "20GB",
		"lifetime":          "6h",
		"step_size":         0,    // 0 means ask the user
		"max_concurrency":   1,    // Submissions are serial unless raised
		"run_cache_size":    16,   // Number of run listings kept in memory
		"require_beamdb":    true, // Refuse to submit a run without its beamdb file
		"cleanup":           true, // Remove staged scripts after submission
		"verbose":           false,
		"dry_run":           false,
		"lambda":            false,
		"lambda_function":   "gridsub_relay",
		"lambda_retries":    3,
	}
	for key, value := range defaultSettings {
		viper.SetDefault(key, value)
	}

	aliases := map[string]string{
		"verbose":   "v",
		"step_size": "step",
	}
	for key, alias := range aliases {
		viper.RegisterAlias(alias, key)
	}
}
