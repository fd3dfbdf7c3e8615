package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/embermqtt/ember/pkg/logger"
)

// Flag values, bound to rootCmd's flags and mergeable from a config file via
// viper (flags override the file). Package-level vars in the teacher's
// cmd-package idiom.
var (
	tcpPort       int
	wsPort        int
	tlsPort       int
	wssPort       int
	certificate   string
	privateKey    string
	verifyFile    string
	verifyField   string
	authFile      string
	iocs          int
	threadsPerIOC int
	fixedCoreMap  bool
	verbose       int
	configFile    string
)

var rootCmd = &cobra.Command{
	Use:   "axbroker",
	Short: "MQTT 3.1.1/5.0 reference broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBroker(cmd.Context())
	},
}

// Execute runs the root command; main's only job is to call this and report
// its error.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "path to a YAML/JSON/TOML config file (flags override it)")
	flags.IntVar(&tcpPort, "tcp.port", 1883, "plaintext TCP listener port, 0 to disable")
	flags.IntVar(&wsPort, "ws.port", 0, "plaintext WebSocket listener port, 0 to disable")
	flags.IntVar(&tlsPort, "tls.port", 0, "TLS listener port, 0 to disable")
	flags.IntVar(&wssPort, "wss.port", 0, "TLS WebSocket listener port, 0 to disable")
	flags.StringVar(&certificate, "certificate", "", "TLS certificate file (PEM)")
	flags.StringVar(&privateKey, "private_key", "", "TLS private key file (PEM)")
	flags.StringVar(&verifyFile, "verify_file", "", "CA bundle used to verify client certificates")
	flags.StringVar(&verifyField, "verify_field", "CN", "client certificate field the client_cert ACL method checks")
	flags.StringVar(&authFile, "auth_file", "", "JSON ACL file (authentication/group/authorization)")
	flags.IntVar(&iocs, "iocs", 0, "number of concurrent accept loops per listener, 0 -> GOMAXPROCS")
	flags.IntVar(&threadsPerIOC, "threads_per_ioc", 1, "advisory worker multiplier per accept loop")
	flags.BoolVar(&fixedCoreMap, "fixed_core_map", false, "pin worker threads to CPU cores (unsupported on this runtime; logged and ignored)")
	flags.IntVar(&verbose, "verbose", 2, "log verbosity, 0 (errors only) to 5 (trace); inverse of severity")

	if err := viper.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("axbroker: bind flags: %v", err))
	}
}

// loadConfig merges configFile (if given) underneath the flags already
// bound above, per §6's "values mergeable from a config file via viper
// (flags override file)".
func loadConfig() error {
	if configFile == "" {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("axbroker: read config %q: %w", configFile, err)
	}

	tcpPort = viper.GetInt("tcp.port")
	wsPort = viper.GetInt("ws.port")
	tlsPort = viper.GetInt("tls.port")
	wssPort = viper.GetInt("wss.port")
	certificate = viper.GetString("certificate")
	privateKey = viper.GetString("private_key")
	verifyFile = viper.GetString("verify_file")
	verifyField = viper.GetString("verify_field")
	authFile = viper.GetString("auth_file")
	iocs = viper.GetInt("iocs")
	threadsPerIOC = viper.GetInt("threads_per_ioc")
	fixedCoreMap = viper.GetBool("fixed_core_map")
	verbose = viper.GetInt("verbose")
	return nil
}

// verbosity maps the 0-5 inverse-severity --verbose flag to an slog.Level:
// 0 logs errors only, 5 logs everything below slog.LevelDebug too.
func verbosity(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError
	case v == 1:
		return slog.LevelWarn
	case v == 2:
		return slog.LevelInfo
	case v >= 5:
		return slog.LevelDebug - 4
	default:
		return slog.LevelInfo - slog.Level(v-2)*4
	}
}

func newLogger() *slog.Logger {
	return logger.NewSlogLogger(verbosity(verbose), os.Stderr).Logger()
}
