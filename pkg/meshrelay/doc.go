// Package meshrelay provides an embeddable multi-client proxy for a
// Meshtastic gateway's TCP API.
//
// A Relay holds the only connection to the gateway and lets any number of
// clients share it. Every frame from the gateway is broadcast to all
// clients, every client frame is forwarded to the gateway, and text packets
// starting with a trigger prefix (default "/gem") are answered by an
// optional AI [Answerer].
//
// # Basic Usage
//
//	cfg := meshrelay.DefaultConfig()
//	cfg.UpstreamAddr = "192.168.1.50:4403"
//
//	r, err := meshrelay.New(cfg, meshrelay.WithAnswerer(answerer))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := r.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Stop()
//
// # Collaborators
//
// [WithAnswerer], [WithBridge] and [WithJournal] attach the optional external
// services. Relaying, broadcasting and reconnecting work the same without
// them.
//
// # Plugins
//
// Plugins are initialized on Start and shut down on Stop. The configwatcher
// plugin reloads [Settings] when the config file changes:
//
//	r, err := meshrelay.New(cfg,
//	    meshrelay.WithConfigPath(path),
//	    configwatcher.WithConfigWatcher(configwatcher.DefaultConfig()),
//	)
//
// # Lifecycle States
//
// A Relay is in one of [StateStopped], [StateStarting], [StateRunning],
// [StateStopping] or [StateCrashed]. Use [Relay.Status] to query it.
package meshrelay
