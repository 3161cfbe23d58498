package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/api"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/events"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/hub"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/metrics"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/mqtt"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	log.Info().Str("config", cfg.String()).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewBoltStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	format, err := hub.ParseCommandFormat(cfg.MQTT.CommandFormat)
	if err != nil {
		return err
	}

	m := metrics.New()
	h, err := hub.New(hub.Options{
		Namespace:     cfg.MQTT.Namespace,
		Devices:       cfg.DeviceStates(),
		TopicDefaults: cfg.Topics,
		CommandFormat: format,
		Factory:       mqtt.NewFactory(log.With().Str("component", "mqtt").Logger()),
		Store:         store,
		Observer:      m,
		Logger:        log.With().Str("component", "hub").Logger(),
	})
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}

	hubDone := make(chan error, 1)
	go func() { hubDone <- h.Run(ctx) }()

	if cfg.MQTT.AutoConnect {
		conn := cfg.MQTT.Connection
		if saved, ok := h.SavedConnection(); ok {
			// the saved profile never carries the password
			saved.Password = conn.Password
			conn = saved
		}
		if err := h.Connect(ctx, conn); err != nil {
			log.Warn().Err(err).Msg("auto-connect failed")
		}
	}

	server := api.NewServer(api.Deps{
		Hub:       h,
		Publishes: store,
		Config:    cfg,
		Events:    events.NewStore(100, log.With().Str("component", "audit").Logger()),
		Metrics:   m,
		Logger:    log.With().Str("component", "api").Logger(),
	})
	go server.RunBackground(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("version", Version).Msg("iothub starting")
		if cfg.Server.NoAuth {
			log.Warn().Msg("authentication is DISABLED")
		}
		printAccessURLs(listenPort(cfg.Server.Addr))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		<-hubDone
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	if err := <-hubDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// listenPort extracts the port from a listen address like ":8080" or "0.0.0.0:8080"
func listenPort(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[idx+1:]
	}
	return addr
}

// getLocalIPs returns all local IPv4 addresses
func getLocalIPs() []string {
	var ips []string

	interfaces, err := net.Interfaces()
	if err != nil {
		return ips
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}

			ips = append(ips, ip.String())
		}
	}

	return ips
}

// printAccessURLs logs the dashboard URLs for each interface
func printAccessURLs(port string) {
	ips := getLocalIPs()
	if len(ips) == 0 {
		log.Info().Msgf("open http://localhost:%s in your browser", port)
		return
	}

	for _, ip := range ips {
		log.Info().Msgf("dashboard available at http://%s:%s", ip, port)
	}
}
