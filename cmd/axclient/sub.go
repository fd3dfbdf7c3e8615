package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/embermqtt/ember/connection"
	"github.com/embermqtt/ember/encoding"
)

var (
	subTopics []string
	subQoS    int
)

var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "Subscribe and print received messages until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if subQoS < 0 || subQoS > 2 {
			return fmt.Errorf("--qos must be 0, 1, or 2, got %d", subQoS)
		}
		if len(subTopics) == 0 {
			return fmt.Errorf("--topic must be given at least once")
		}
		return runSub(cmd.Context())
	},
}

func init() {
	flags := subCmd.Flags()
	flags.StringArrayVarP(&subTopics, "topic", "t", nil, "topic filter to subscribe to (repeatable)")
	flags.IntVarP(&subQoS, "qos", "q", 0, "requested subscribe QoS (0, 1, or 2)")
}

func runSub(ctx context.Context) error {
	ep, err := connect(ctx)
	if err != nil {
		return err
	}
	defer ep.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	entries := make([]connection.SubscribeEntry, len(subTopics))
	for i, t := range subTopics {
		entries[i] = connection.SubscribeEntry{TopicFilter: t, QoS: encoding.QoS(subQoS)}
	}
	if _, err := ep.Connection().Subscribe(entries); err != nil {
		return fmt.Errorf("axclient: subscribe: %w", err)
	}

	for {
		select {
		case ev, ok := <-ep.Recv():
			if !ok {
				return nil
			}
			if ev.Publish != nil {
				fmt.Printf("%s %s\n", ev.Publish.Topic, ev.Publish.Payload)
			}
			if ev.Suback != nil {
				for i, rc := range ev.Suback.ReasonCodes {
					if rc >= 0x80 {
						fmt.Fprintf(os.Stderr, "axclient: subscribe to %q refused: %s\n", subTopics[i], rc)
					}
				}
			}
		case <-ep.Closed():
			return nil
		case <-ctx.Done():
			_ = ep.Connection().SendDisconnect(&connection.Disconnect{ReasonCode: encoding.ReasonNormalDisconnection})
			return nil
		}
	}
}
