package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/embermqtt/ember/connection"
	"github.com/embermqtt/ember/encoding"
)

var (
	pubTopic   string
	pubPayload string
	pubQoS     int
	pubRetain  bool
)

var pubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Publish a single message and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pubQoS < 0 || pubQoS > 2 {
			return fmt.Errorf("--qos must be 0, 1, or 2, got %d", pubQoS)
		}
		return runPub(cmd.Context())
	},
}

func init() {
	flags := pubCmd.Flags()
	flags.StringVarP(&pubTopic, "topic", "t", "", "topic to publish to (required)")
	flags.StringVarP(&pubPayload, "message", "m", "", "payload to publish")
	flags.IntVarP(&pubQoS, "qos", "q", 0, "publish QoS (0, 1, or 2)")
	flags.BoolVar(&pubRetain, "retain", false, "set the RETAIN flag")
	_ = pubCmd.MarkFlagRequired("topic")
}

func runPub(ctx context.Context) error {
	ep, err := connect(ctx)
	if err != nil {
		return err
	}
	defer ep.Close()

	if _, err := ep.Connection().Publish(pubTopic, []byte(pubPayload), encoding.QoS(pubQoS), pubRetain, nil); err != nil {
		return fmt.Errorf("axclient: publish: %w", err)
	}

	// QoS0 is fire-and-forget with nothing to wait on; QoS1/2 settle their
	// handshake inside the Connection core (AutoPubResponse), so draining one
	// receive-channel tick gives the ack a chance to land before we hang up.
	if pubQoS > 0 {
		select {
		case <-ep.Recv():
		case <-ep.Closed():
		}
	}

	return ep.Connection().SendDisconnect(&connection.Disconnect{ReasonCode: encoding.ReasonNormalDisconnection})
}
