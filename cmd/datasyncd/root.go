package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/datasync/internal/config"
	"github.com/zeusync/datasync/internal/injector"
	"github.com/zeusync/datasync/internal/node"
)

// startNode is replaced in tests.
var startNode = runNode

type rootOptions struct {
	configPath string
	logLevel   string
	inspector  string
}

type runOptions struct {
	*rootOptions
	hostname    string
	group       string
	bind        string
	port        uint16
	transport   string
	format      string
	peers       []string
	objects     []string
	noDiscovery bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "datasyncd",
		Short:         "datasync node daemon",
		Long:          "Runs a datasync node that keeps named documents in sync with its peers, and talks to a running node's inspector.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or TOML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error|silent)")
	cmd.PersistentFlags().StringVar(&opts.inspector, "inspector", "", "inspector address; for run it overrides inspector.listen")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newSetCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node until interrupted",
		Example: `  datasyncd run --config node.yaml
  datasyncd run --group house --object lights --peer 192.168.1.20:4210`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return startNode(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.hostname, "hostname", "", "advertised hostname")
	f.StringVar(&opts.group, "group", "", "synchronization group")
	f.StringVar(&opts.bind, "bind", "", "local address to bind")
	f.Uint16Var(&opts.port, "port", 0, "local port")
	f.StringVar(&opts.transport, "transport", "", "transport (udp|quic)")
	f.StringVar(&opts.format, "format", "", "wire format (json|msgpack)")
	f.StringSliceVar(&opts.peers, "peer", nil, "static peer address, repeatable")
	f.StringSliceVar(&opts.objects, "object", nil, "synchronized object name, repeatable")
	f.BoolVar(&opts.noDiscovery, "no-discovery", false, "disable mDNS discovery")
	return cmd
}

// load reads the config file, if any, and applies the flags that were set
// explicitly on the command line.
func (o *runOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("inspector") {
		cfg.Inspector.Listen = o.inspector
	}
	if flags.Changed("hostname") {
		cfg.Node.Hostname = o.hostname
	}
	if flags.Changed("group") {
		cfg.Node.Group = o.group
	}
	if flags.Changed("bind") {
		cfg.Node.Bind = o.bind
	}
	if flags.Changed("port") {
		cfg.Node.Port = o.port
	}
	if flags.Changed("transport") {
		cfg.Node.Transport = o.transport
	}
	if flags.Changed("format") {
		cfg.Node.Format = o.format
	}
	if flags.Changed("peer") {
		cfg.Node.Peers = append(cfg.Node.Peers, o.peers...)
	}
	if flags.Changed("object") {
		cfg.Node.Objects = append(cfg.Node.Objects, o.objects...)
	}
	if o.noDiscovery {
		cfg.Discovery.Enabled = false
	}
	return cfg, cfg.Validate()
}

func runNode(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := injector.InitializeNode(cfg)
	if err != nil {
		return err
	}
	runErr := n.Run(ctx)
	if err := n.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a running node's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.call(cmd, http.MethodGet, "/status", nil)
		},
	}
}

func newGetCommand(root *rootOptions) *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "get <object>",
		Short: "Print an object, ours or a peer's copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/objects/" + url.PathEscape(args[0])
			if peer != "" {
				path += "?peer=" + url.QueryEscape(peer)
			}
			return root.call(cmd, http.MethodGet, path, nil)
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "read the copy held for this peer")
	return cmd
}

func newSetCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "set <object> <json>",
		Short:   "Replace one of the node's objects and push it to every peer",
		Example: `  datasyncd set lights '{"on":true,"level":3}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.call(cmd, http.MethodPut, "/objects/"+url.PathEscape(args[0]), strings.NewReader(args[1]))
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), node.Version)
		},
	}
}

func (o *rootOptions) inspectorURL() string {
	addr := o.inspector
	if addr == "" {
		addr = config.Default().Inspector.Listen
		if o.configPath != "" {
			if cfg, err := config.Load(o.configPath); err == nil && cfg.Inspector.Listen != "" {
				addr = cfg.Inspector.Listen
			}
		}
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	return "http://" + addr
}

func (o *rootOptions) call(cmd *cobra.Command, method, path string, body io.Reader) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, o.inspectorURL()+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if len(data) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(data)))
	}
	return nil
}
