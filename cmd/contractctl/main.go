// Command contractctl is the operational companion to the contract package:
// it validates declarative contract definitions, prints their derived
// topology, projects them to AsyncAPI 3.0.0, and can declare that topology
// against a live broker.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	viperCfg "go.bryk.io/contractq/cli/viper"
	"gopkg.in/yaml.v3"
)

func main() {
	_ = godotenv.Load() // optional `.env`; missing file is not an error

	root := &cobra.Command{
		Use:   "contractctl",
		Short: "Inspect, validate and declare AMQP contract definitions",
		Long: "contractctl loads a declarative contract definition file and operates on " +
			"the topology and message routing it describes: validation, topology " +
			"inspection, AsyncAPI projection, and live broker declaration.",
		SilenceUsage: true,
	}
	root.AddCommand(validateCmd(), topologyCmd(), asyncapiCmd(), declareCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// appConfig returns a configuration handler layered flags > environment
// (CONTRACTCTL_-prefixed) > `config.yaml` > defaults, following the same
// `cli.Config`/`cli/viper.Config` pattern used throughout the pack.
func appConfig() *viperCfg.Config {
	return viperCfg.ConfigHandler("contractctl", nil)
}

func yamlMarshal(v interface{}) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
