package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sndnv/syn-server-core/internal/config"
	"github.com/sndnv/syn-server-core/internal/coordinator"
	"github.com/sndnv/syn-server-core/internal/cryptosvc"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/logging"
	"github.com/sndnv/syn-server-core/internal/model"
	"github.com/sndnv/syn-server-core/internal/storage"
	"github.com/sndnv/syn-server-core/internal/transport"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "syncserverd",
		Short: "Runs the secure-connection and handshake subsystem as a standalone daemon",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML/TOML/JSON config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	crypto := cryptosvc.NewService()
	devices := storage.NewMemoryDeviceStore()
	auth := storage.NewMemoryAuthStore()

	localECDHPrivate, err := hex.DecodeString(cfg.LocalECDHPrivateKeyHex)
	if err != nil {
		return fmt.Errorf("decoding local.ecdh_private_key_hex: %w", err)
	}

	var localPublicKey []byte
	switch cfg.LocalKeyExchange {
	case ids.KeyExchangeRSA:
		localPublicKey = []byte(cfg.LocalPublicKeyPEM)
	case ids.KeyExchangeECDH:
		localPublicKey, err = hex.DecodeString(cfg.LocalECDHPublicKeyHex)
		if err != nil {
			return fmt.Errorf("decoding local.ecdh_public_key_hex: %w", err)
		}
	}

	coord := coordinator.New(coordinator.Config{
		LocalDeviceId:       cfg.LocalDeviceId,
		LocalRole:           cfg.LocalRole,
		LocalPrivateKey:     []byte(cfg.LocalPrivateKeyPEM),
		LocalECDHPrivateKey: localECDHPrivate,
		LocalKeyExchange:    cfg.LocalKeyExchange,
		LocalPublicKey:      localPublicKey,
		Endpoints: coordinator.LocalEndpoints{
			Init:    model.Endpoint{Addr: cfg.Endpoints.InitAddr, Port: cfg.Endpoints.InitPort},
			Command: model.Endpoint{Addr: cfg.Endpoints.CommandAddr, Port: cfg.Endpoints.CommandPort},
			Data:    model.Endpoint{Addr: cfg.Endpoints.DataAddr, Port: cfg.Endpoints.DataPort},
		},
		MaxDataSize:        cfg.MaxDataSize,
		InitHandshakeRate:  cfg.InitHandshakeRate,
		InitHandshakeBurst: cfg.InitHandshakeBurst,
		Timeouts: coordinator.Timeouts{
			Setup:      cfg.Timeouts.Setup,
			Inactivity: cfg.Timeouts.Inactivity,
			Discard:    cfg.Timeouts.Discard,
		},
	}, log, crypto, devices, auth)

	initMgr := transport.NewManager(coord.ConnectionIds(), log)
	cmdMgr := transport.NewManager(coord.ConnectionIds(), log)
	dataMgr := transport.NewManager(coord.ConnectionIds(), log)

	initMgr.LimitConnections(cfg.MaxConnectionsPerListener)
	cmdMgr.LimitConnections(cfg.MaxConnectionsPerListener)
	dataMgr.LimitConnections(cfg.MaxConnectionsPerListener)

	initMgr.OnConnectionCreated(func(ev transport.ConnectionCreated) {
		coord.HandleConnectionCreated(coordinator.KindInit, ev)
	})
	cmdMgr.OnConnectionCreated(func(ev transport.ConnectionCreated) {
		coord.HandleConnectionCreated(coordinator.KindCommand, ev)
	})
	dataMgr.OnConnectionCreated(func(ev transport.ConnectionCreated) {
		coord.HandleConnectionCreated(coordinator.KindData, ev)
	})

	if err := initMgr.Start(cfg.Endpoints.InitAddr, cfg.Endpoints.InitPort); err != nil {
		return fmt.Errorf("starting init listener: %w", err)
	}
	if err := cmdMgr.Start(cfg.Endpoints.CommandAddr, cfg.Endpoints.CommandPort); err != nil {
		return fmt.Errorf("starting command listener: %w", err)
	}
	if err := dataMgr.Start(cfg.Endpoints.DataAddr, cfg.Endpoints.DataPort); err != nil {
		return fmt.Errorf("starting data listener: %w", err)
	}

	log.Infof("syncserverd listening: init=%s:%d command=%s:%d data=%s:%d",
		cfg.Endpoints.InitAddr, cfg.Endpoints.InitPort,
		cfg.Endpoints.CommandAddr, cfg.Endpoints.CommandPort,
		cfg.Endpoints.DataAddr, cfg.Endpoints.DataPort)
	log.Infof("local device id: %s, role: %s", idString(cfg.LocalDeviceId), cfg.LocalRole)

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM, os.Interrupt)
	<-term

	log.Info("shutting down")
	coord.Shutdown()
	_ = initMgr.Stop()
	_ = cmdMgr.Stop()
	_ = dataMgr.Stop()
	return nil
}

func idString(id ids.DeviceId) string {
	if id.IsZero() {
		return "<unset>"
	}
	return id.String()
}
