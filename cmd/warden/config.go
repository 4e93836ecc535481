package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/warden/pkg/config"
)

func newConfigCmd() *cobra.Command {
	var (
		configPath string
		schema     bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if schema {
				out, err := configSchema()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to warden config file (yaml or toml)")
	cmd.Flags().BoolVar(&schema, "schema", false, "print the JSON schema of the config file instead")
	return cmd
}

// configSchema describes the config file, keyed by its yaml field names.
func configSchema() ([]byte, error) {
	r := &jsonschema.Reflector{FieldNameTag: "yaml"}
	s := r.Reflect(&config.Config{})
	s.Title = "warden configuration"
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}
