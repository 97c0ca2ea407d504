package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eth-cscs/firecrest/pkg/log"
	"github.com/eth-cscs/firecrest/pkg/streamer"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fc-streamer",
	Short: "WebSocket file streamer for gateway transfer jobs",
	Long: `fc-streamer is the job-side half of the streamer transfer
method: "serve" runs inside a scheduler job, binds a port from the
configured range and moves exactly one file to or from the first peer
presenting the shared secret. "send" and "receive" are the user-side
client, driven by the connection token returned by the gateway.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fc-streamer version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve one transfer inside a scheduler job",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		file, _ := cmd.Flags().GetString("file")
		portStart, _ := cmd.Flags().GetInt("port-start")
		portEnd, _ := cmd.Flags().GetInt("port-end")
		secret, _ := cmd.Flags().GetString("secret")
		waitTimeout, _ := cmd.Flags().GetInt64("wait-timeout")
		maxSize, _ := cmd.Flags().GetInt64("max-size")

		if mode != string(streamer.ModeSend) && mode != string(streamer.ModeReceive) {
			return fmt.Errorf("mode must be %q or %q", streamer.ModeSend, streamer.ModeReceive)
		}

		log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false})

		server := &streamer.Server{
			Mode:        streamer.Mode(mode),
			FilePath:    file,
			PortStart:   portStart,
			PortEnd:     portEnd,
			Secret:      secret,
			WaitTimeout: time.Duration(waitTimeout) * time.Second,
			MaxSize:     maxSize,
		}
		return server.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("mode", "", "Transfer direction: send or receive")
	serveCmd.Flags().String("file", "", "File to send, or path to write the received stream to")
	serveCmd.Flags().Int("port-start", 0, "First port of the bind range")
	serveCmd.Flags().Int("port-end", 0, "One past the last port of the bind range")
	serveCmd.Flags().String("secret", "", "Shared secret the peer must present")
	serveCmd.Flags().Int64("wait-timeout", 86400, "Seconds to wait for a peer before giving up")
	serveCmd.Flags().Int64("max-size", 5*1024*1024*1024, "Inbound size cap in bytes")
	serveCmd.MarkFlagRequired("mode")
	serveCmd.MarkFlagRequired("file")
	serveCmd.MarkFlagRequired("secret")
}

var sendCmd = &cobra.Command{
	Use:   "send FILE",
	Short: "Stream a local file to a receiving job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")

		info, err := streamer.DecodeToken(token)
		if err != nil {
			return err
		}
		conn, err := streamer.Connect(cmd.Context(), info)
		if err != nil {
			return err
		}
		defer conn.Close()

		file, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer file.Close()
		return streamer.Send(conn, file)
	},
}

var receiveCmd = &cobra.Command{
	Use:   "receive FILE",
	Short: "Receive a sending job's stream into a local file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")

		info, err := streamer.DecodeToken(token)
		if err != nil {
			return err
		}
		conn, err := streamer.Connect(cmd.Context(), info)
		if err != nil {
			return err
		}
		defer conn.Close()

		file, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer file.Close()
		return streamer.Receive(conn, file)
	},
}

func init() {
	sendCmd.Flags().String("token", "", "Connection token returned by the gateway")
	receiveCmd.Flags().String("token", "", "Connection token returned by the gateway")
	sendCmd.MarkFlagRequired("token")
	receiveCmd.MarkFlagRequired("token")
}
