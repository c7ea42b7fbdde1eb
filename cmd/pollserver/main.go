package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fzft/go-poll-server/log"
	"github.com/fzft/go-poll-server/mux"
)

var (
	port        int
	mode        string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:          "pollserver",
	Short:        "Readiness-polling TCP multiplexer with echo and chat handlers",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var handler mux.Handler
		switch mode {
		case "echo":
			handler = mux.NewEchoHandler()
		case "chat":
			handler = mux.NewChatHandler()
		default:
			return fmt.Errorf("unknown mode %q (want echo or chat)", mode)
		}

		if metricsAddr != "" {
			go func() {
				http.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(metricsAddr, nil); err != nil {
					log.Logger.Error("metrics listener error", zap.Error(err))
				}
			}()
		}

		return mux.NewServer(port, handler).Run()
	},
}

func init() {
	rootCmd.Flags().IntVar(&port, "port", 9000, "TCP port to listen on")
	rootCmd.Flags().StringVar(&mode, "mode", "chat", "connection handler: echo or chat")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (disabled when empty)")
}

func main() {
	log.InitLogger()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
