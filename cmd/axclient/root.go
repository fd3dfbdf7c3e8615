package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/embermqtt/ember/encoding"
)

// Connection flags shared by the pub/sub subcommands, bound in init() the
// way the pack's cobra-based example client binds its own flags: package-
// level vars, StringVarP/IntVarP in init(), one RootCmd.AddCommand per verb.
var (
	brokerAddr   string
	useTLS       bool
	insecureTLS  bool
	clientID     string
	username     string
	password     string
	keepAlive    int
	protoVersion string
	cleanStart   bool
)

var rootCmd = &cobra.Command{
	Use:   "axclient",
	Short: "MQTT 3.1.1/5.0 reference command-line client",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&brokerAddr, "broker", "b", "localhost:1883", "broker address (host:port)")
	flags.BoolVar(&useTLS, "tls", false, "connect over TLS")
	flags.BoolVar(&insecureTLS, "insecure", false, "skip TLS certificate verification")
	flags.StringVarP(&clientID, "client_id", "i", "", "MQTT client identifier, random if empty")
	flags.StringVarP(&username, "username", "u", "", "CONNECT username")
	flags.StringVarP(&password, "password", "P", "", "CONNECT password")
	flags.IntVarP(&keepAlive, "keep_alive", "k", 60, "keep-alive interval in seconds")
	flags.StringVar(&protoVersion, "mqtt_version", "5", "MQTT protocol version, \"5\" or \"3.1.1\"")
	flags.BoolVar(&cleanStart, "clean_start", true, "request a clean session/start")

	rootCmd.AddCommand(pubCmd, subCmd)

	if err := viper.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("axclient: bind flags: %v", err))
	}
}

func parseProtocolVersion() (encoding.ProtocolVersion, error) {
	switch protoVersion {
	case "5", "5.0":
		return encoding.ProtocolVersion50, nil
	case "3.1.1", "311":
		return encoding.ProtocolVersion311, nil
	default:
		return 0, fmt.Errorf("axclient: unrecognized --mqtt_version %q", protoVersion)
	}
}
