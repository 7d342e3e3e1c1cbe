package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/protobus"
)

type callFlags struct {
	name      string
	transport string
	relayAddr string
	natsURL   string
	kwargs    []string
	noReply   bool
	timeout   time.Duration
}

func callCmd() *cobra.Command {
	var f callFlags
	cmd := &cobra.Command{
		Use:   "call <target> <event> [args...]",
		Short: "Call an event on a named client and print the result",
		Long: "Arguments and --kwarg values are parsed as JSON when they are valid JSON " +
			"and sent as strings otherwise.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			f.apply(conf)

			positional := make([]any, 0, len(args)-2)
			for _, raw := range args[2:] {
				positional = append(positional, parseValue(raw))
			}
			kwargs, err := parseKwargs(f.kwargs)
			if err != nil {
				return err
			}

			client, err := protobus.NewClient(conf, newLogger(), protobus.Dependencies{})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer func() { _ = client.Close(context.Background()) }()

			opts := []protobus.CallOption{protobus.WithArgs(positional...), protobus.WithTimeout(f.timeout)}
			if len(kwargs) > 0 {
				opts = append(opts, protobus.WithKwargs(kwargs))
			}

			if f.noReply {
				return client.Send(ctx, args[0], args[1], opts...)
			}
			if err := client.Start(ctx); err != nil {
				return err
			}
			res, err := client.Request(ctx, args[0], args[1], opts...)
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}

	cmd.Flags().StringVar(&f.name, "name", "", "channel name of this caller (default: protobus-cli)")
	cmd.Flags().StringVar(&f.transport, "transport", "", "pubsub system (default: relay)")
	cmd.Flags().StringVar(&f.relayAddr, "relay", "", "relay server address")
	cmd.Flags().StringVar(&f.natsURL, "nats-url", "", "NATS server URL")
	cmd.Flags().StringArrayVarP(&f.kwargs, "kwarg", "k", nil, "keyword argument as key=value, repeatable")
	cmd.Flags().BoolVar(&f.noReply, "no-reply", false, "send without waiting for a result")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "reply timeout (default: request_timeout of the config)")
	return cmd
}

// apply lets explicit flags override the config file.
func (f callFlags) apply(conf *protobus.Config) {
	if f.name != "" {
		conf.Name = f.name
	}
	if conf.Name == "" {
		conf.Name = "protobus-cli"
	}
	if f.transport != "" {
		conf.PubSubSystem = f.transport
	}
	if conf.PubSubSystem == "" {
		conf.PubSubSystem = "relay"
	}
	if f.relayAddr != "" {
		conf.RelayAddress = f.relayAddr
	}
	if f.natsURL != "" {
		conf.NATSURL = f.natsURL
	}
}

func parseValue(raw string) any {
	var v any
	if err := protobus.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func parseKwargs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --kwarg %q, want key=value", pair)
		}
		out[key] = parseValue(value)
	}
	return out, nil
}

func printResult(cmd *cobra.Command, res *protobus.Result) error {
	if res.Failed() {
		return fmt.Errorf("%s: %s", res.Failure.Type, res.Failure.Message)
	}
	var v any
	if len(res.Value) > 0 {
		if err := res.Decode(&v); err != nil {
			return err
		}
	}
	out, err := protobus.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
