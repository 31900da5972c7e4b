package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-xnet/config"
	"github.com/arloliu/go-xnet/logger"
	"github.com/arloliu/go-xnet/mqttbridge"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the turnout manager and MQTT bridge until interrupted",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
	}()

	if err := s.applyRoster(ctx); err != nil {
		return err
	}
	if err := s.mgr.LoadRoster(ctx); err != nil {
		return err
	}
	s.logger.Info("roster loaded", "turnouts", len(s.mgr.Addresses()))

	if cfg.MQTT.Enabled {
		broker, err := openBroker(cfg.MQTT, s.logger)
		if err != nil {
			return err
		}
		defer broker.Close()

		bridge := mqttbridge.NewBridge(broker, s.mgr,
			mqttbridge.WithPrefix(cfg.MQTT.Prefix),
			mqttbridge.WithLogger(s.logger),
		)
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer bridge.Stop()
	}

	<-ctx.Done()
	s.logger.Info("shutting down")

	saveCtx, cancel := context.WithTimeout(context.Background(), cfg.ReplyTimeout())
	defer cancel()

	return s.mgr.Save(saveCtx)
}

func openBroker(cfg config.MQTTConfig, l logger.Logger) (mqttbridge.Broker, error) {
	if cfg.Embedded {
		l.Info("starting embedded MQTT broker", "listen", cfg.Listen)
		return mqttbridge.NewEmbedded(mqttbridge.EmbeddedConfig{
			Listen: cfg.Listen,
			QoS:    byte(cfg.QoS),
		})
	}

	l.Info("connecting to MQTT broker", "broker", cfg.Broker)
	b, err := mqttbridge.DialPaho(mqttbridge.PahoConfig{
		Broker:   cfg.Broker,
		ClientID: cfg.ClientID,
		Username: cfg.Username,
		Password: cfg.Password,
		QoS:      byte(cfg.QoS),
	})
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}

	return b, nil
}
