package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/humidity-monitor/internal/animate"
	"github.com/kjstillabower/humidity-monitor/internal/client"
	"github.com/kjstillabower/humidity-monitor/internal/config"
	"github.com/kjstillabower/humidity-monitor/internal/notifications"
	"github.com/kjstillabower/humidity-monitor/internal/observability"
	"github.com/kjstillabower/humidity-monitor/internal/push"
	"github.com/kjstillabower/humidity-monitor/internal/screen"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateMonitor(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLoggerTo(cfg.MonitorLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	humidityClient, err := client.NewHumidityClient(cfg.MonitorBaseURL, cfg.MonitorPath, cfg.MonitorFetchTimeout)
	if err != nil {
		logger.Fatal("humidity client", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	term := screen.NewTerminal(os.Stdout, cfg.MonitorBarWidth)
	animator := animate.New()
	con := newConsole(os.Stdout)

	opts := []screen.Option{
		screen.WithLogger(logger),
		screen.WithFetchTimeout(cfg.MonitorFetchTimeout),
		screen.WithDiscardStale(cfg.MonitorDiscardStale),
	}

	var (
		pushService *push.MQTTService
		deviceAPI   *client.DeviceClient
	)
	if cfg.PushEnabled {
		clientID := cfg.MQTTClientID
		if clientID == "" {
			clientID = "humidity-monitor-" + uuid.NewString()[:8]
		}
		broker := push.NewPahoBroker(push.BrokerConfig{
			URL:      cfg.MQTTBroker,
			ClientID: clientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, logger)
		connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := broker.Connect(connectCtx); err != nil {
			logger.Warn("mqtt connect failed", zap.String("broker", cfg.MQTTBroker), zap.Error(err))
		}
		connectCancel()

		pushService = push.NewMQTTService(broker, push.Options{
			TopicPrefix: cfg.PushTopicPrefix,
			Platform:    cfg.PushPlatform,
			Permission:  push.ParsePermission(cfg.PushPermission),
			Prompt:      con.Prompt,
		}, logger)
		opts = append(opts, screen.WithRegistrar(notifications.NewRegistrar(pushService, logger)))

		deviceAPI, err = client.NewDeviceClient(cfg.MonitorBaseURL, cfg.MonitorFetchTimeout)
		if err != nil {
			logger.Fatal("device client", zap.Error(err))
		}
	}

	controller := screen.New(humidityClient, animator, term, opts...)
	go func() {
		if err := controller.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("screen loop stopped", zap.Error(err))
		}
	}()
	controller.Mount()

	fmt.Fprintln(os.Stdout, "humidity monitor: r = refresh, q = quit")
	lines := readLines(ctx, os.Stdin)
	render := time.NewTicker(cfg.MonitorRenderInterval)
	defer render.Stop()

	announced := ""
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-controller.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if con.dispatch(line) {
				continue
			}
			switch parseCommand(line) {
			case cmdRefresh:
				controller.Refresh()
			case cmdQuit:
				break loop
			}
		case <-render.C:
			if con.waiting() {
				continue
			}
			state := controller.Snapshot()
			if err := term.Draw(state, animator); err != nil {
				logger.Warn("draw failed", zap.Error(err))
			}
			if deviceAPI != nil && state.Token != "" && state.Token != announced {
				announced = state.Token
				go announceDevice(deviceAPI, state.Token, cfg.PushPlatform, logger)
			}
		}
	}

	controller.Unmount()
	<-controller.Done()
	if pushService != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		pushService.Close(closeCtx)
		cancel()
	}
	fmt.Fprintln(os.Stdout)
	logger.Info("monitor stopped")
}

// announceDevice tells the proxy about the push token so its alerts reach this screen.
// Failure only costs server-side alerts, so it is logged and not shown.
func announceDevice(api *client.DeviceClient, token, platform string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Register(ctx, token, platform); err != nil {
		logger.Warn("device registration with proxy failed",
			zap.Error(err),
			zap.String("category", string(client.CategorizeError(err))))
		return
	}
	logger.Info("device registered with proxy")
}
