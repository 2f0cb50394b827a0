// Command echodevice is a minimal demonstration binary for reliudp/pkg/device:
// it starts a Device in either active or passive mode, registers a handler
// that echoes every console-message payload it receives (reliable or
// unreliable) back as UNRELIABLE, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"reliudp/pkg/device"
	"reliudp/pkg/logging"
)

const version = "1.0.0"

type config struct {
	bindHost   string
	bindPort   int
	remoteHost string
	remotePort int
}

func loadConfig() config {
	cfg := config{
		bindHost: "0.0.0.0",
		bindPort: 9000,
	}
	if v := os.Getenv("ECHODEVICE_BIND_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.bindPort = p
		}
	}
	if v := os.Getenv("ECHODEVICE_REMOTE_HOST"); v != "" {
		cfg.remoteHost = v
		cfg.remotePort = 9000
		if v := os.Getenv("ECHODEVICE_REMOTE_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				cfg.remotePort = p
			}
		}
	}
	return cfg
}

func main() {
	log := logging.New(logging.Options{Level: slog.LevelInfo})
	log.Banner("echodevice "+version, "reliable UDP device demo")

	cfg := loadConfig()

	bind := &net.UDPAddr{IP: net.ParseIP(cfg.bindHost), Port: cfg.bindPort}

	var remote *net.UDPAddr
	if cfg.remoteHost != "" {
		remote = &net.UDPAddr{IP: net.ParseIP(cfg.remoteHost), Port: cfg.remotePort}
	}

	log.Info("starting device", slog.String("bind", bind.String()))

	d, err := device.Start(bind, remote, device.WithLogger(log))
	if err != nil {
		log.Fatal("device start failed", slog.Any("error", err))
	}
	log.Success("device ready")

	err = d.RegisterParser(device.MessageTypeConsoleMessage, func(sendTime int64, payload []byte) {
		log.Info("echoing message", slog.Int("bytes", len(payload)))
		if sendErr := d.SendUnreliable(device.MessageTypeConsoleMessage, payload); sendErr != nil {
			log.Warn("echo send failed", slog.Any("error", sendErr))
		}
	})
	if err != nil {
		log.Fatal("handler registration failed", slog.Any("error", err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	log.Warn("received signal, shutting down", slog.Any("signal", sig))
	if err := d.Close(); err != nil {
		log.Warn("close error", slog.Any("error", err))
	}
	time.Sleep(100 * time.Millisecond)
	log.Success("device stopped")
}
