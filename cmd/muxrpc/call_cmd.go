package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"muxrpc/client"
	"muxrpc/codec"
	"muxrpc/metrics"
)

type callOpts struct {
	*rootOpts
	wsURL       string
	showMetrics bool
}

func newCall(parent *rootOpts) *callOpts {
	return &callOpts{rootOpts: parent}
}

func (opts *callOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call SERVICE METHOD [ARGS_JSON]",
		Short: "Call a method with JSON arguments and print the JSON result",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringP("address", "a", "", "server TCP address (overrides config)")
	cmd.Flags().StringVar(&opts.wsURL, "ws", "", "websocket URL, e.g. ws://localhost:7071/_rpc_; takes precedence over --address")
	cmd.Flags().DurationP("timeout", "t", 0, "call timeout (overrides config)")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "print the client's metrics in Prometheus text format after the call")
	return cmd
}

func (opts *callOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return newUsageError("expected SERVICE METHOD and optional JSON arguments")
	}
	cfg := opts.config
	if codecType, _ := codec.ParseType(cfg.Client.Codec); codecType != codec.CodecTypeJSON {
		return newUsageError("the call command only speaks the json codec")
	}
	overrideString(cmd.Flags(), "address", &cfg.Client.Address)
	overrideDuration(cmd.Flags(), "timeout", &cfg.Client.Timeout)

	callArgs := json.RawMessage("null")
	if len(args) == 3 {
		if !json.Valid([]byte(args[2])) {
			return newUsageError("arguments must be valid JSON")
		}
		callArgs = json.RawMessage(args[2])
	}

	clientOpts := append(cfg.ClientOptions(), client.WithLogger(opts.logger))
	var reg *stdprometheus.Registry
	if opts.showMetrics {
		reg = stdprometheus.NewRegistry()
		clientOpts = append(clientOpts, client.WithMetrics(metrics.NewClient(reg, cfg.MetricsNamespace)))
	}
	var (
		c   *client.Client
		err error
	)
	if opts.wsURL != "" {
		c, err = client.DialWebsocket(context.Background(), opts.wsURL, clientOpts...)
	} else {
		c, err = client.Dial("tcp", cfg.Client.Address, clientOpts...)
	}
	if err != nil {
		return err
	}
	defer c.Close()

	var reply json.RawMessage
	callErr := c.Call(context.Background(), args[0], args[1], callArgs, &reply)
	if callErr == nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(reply))
	}
	if reg != nil {
		if err := writeMetrics(cmd.OutOrStdout(), reg); err != nil {
			return err
		}
	}
	if callErr != nil {
		return errors.Wrapf(callErr, "%s.%s", args[0], args[1])
	}
	return nil
}

func writeMetrics(w io.Writer, gatherer stdprometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	return nil
}
