package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfilz/openfilz-core-sub000/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL    string
	bearerToken  string
	cfgFile      string
	outputFormat string
)

// errChainBroken makes `auditctl verify` exit non-zero without printing usage.
var errChainBroken = errors.New("audit chain integrity violation")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "auditctl",
	Short: "openfilz audit chain CLI",
	Long: `auditctl inspects and verifies the openfilz tamper-evident audit chain.

It talks to a running auditd over HTTP. The server URL and token can be set
with flags, in ~/.auditctl/config.yaml (server_url, token), or through the
AUDITCTL_SERVER_URL and AUDITCTL_TOKEN environment variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.auditctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("auditctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if bearerToken == "" {
			bearerToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.auditctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "auditd base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "service token sent as Authorization: Bearer")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(trailCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(exclusionsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if bearerToken != "" {
		opts = append(opts, client.WithBearerToken(bearerToken))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseMeta turns repeated key=value flags into a metadata object. Values that
// parse as JSON (numbers, booleans, arrays, objects) keep their type.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q: want key=value", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
		} else {
			out[k] = v
		}
	}
	return out, nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the auditctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("auditctl %s (openfilz audit chain)\n", version)
	},
}
