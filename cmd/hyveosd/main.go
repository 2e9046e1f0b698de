// Command hyveosd is the HyveOS mesh daemon: it joins the overlay, discovers
// neighbours, and exposes the local RPC bridge described in SPEC_FULL.md.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/docker/docker/client"

	"github.com/p2p-industries/hyveos-sub001/internal/apps"
	"github.com/p2p-industries/hyveos-sub001/internal/bridge"
	"github.com/p2p-industries/hyveos-sub001/internal/config"
	"github.com/p2p-industries/hyveos-sub001/internal/debugfanout"
	"github.com/p2p-industries/hyveos-sub001/internal/filetransfer"
	"github.com/p2p-industries/hyveos-sub001/internal/groups"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
	"github.com/p2p-industries/hyveos-sub001/internal/kv"
	"github.com/p2p-industries/hyveos-sub001/internal/neighside"
	"github.com/p2p-industries/hyveos-sub001/internal/overlay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hyveosd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := hyvelog.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("hyveosd: invalid log level %q: %w", cfg.LogLevel, err)
	}
	log := hyvelog.New("component", "hyveosd")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	keyFile := cfg.KeyFile
	if keyFile == "" {
		keyFile = "/var/lib/hyveos/identity.key"
	}
	priv, err := loadOrCreateIdentity(keyFile)
	if err != nil {
		return err
	}

	ov, err := overlay.New(ctx, overlay.Config{
		PrivateKey:     priv,
		GossipsubMeshN: cfg.GossipsubMeshN,
	})
	if err != nil {
		return fmt.Errorf("hyveosd: construct overlay: %w", err)
	}
	defer ov.Close()
	log.Info("overlay ready", "peer_id", ov.PeerId().String())

	dbFile := cfg.DbFile
	if dbFile == "" {
		dbFile = "/var/lib/hyveos/state.db"
	}
	if err := os.MkdirAll(filepath.Dir(dbFile), 0o750); err != nil {
		return fmt.Errorf("hyveosd: create db directory: %w", err)
	}
	db, err := kv.Open(dbFile)
	if err != nil {
		return fmt.Errorf("hyveosd: open kv store: %w", err)
	}
	defer db.Close()

	storeDir := cfg.StoreDirectory
	if storeDir == "" {
		storeDir = "/var/lib/hyveos/content"
	}
	store, err := filetransfer.NewStore(storeDir)
	if err != nil {
		return fmt.Errorf("hyveosd: open content store: %w", err)
	}
	fileTransfer := ov.RegisterFileTransfer(store)

	var supervisor *apps.Supervisor
	var delegate *apps.PeerDelegate
	if cfg.AppManagement == config.AppManagementAllow {
		docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("hyveosd: construct docker client: %w", err)
		}
		supervisor = apps.NewSupervisor(docker, db.StartupApps())
		delegate = apps.NewPeerDelegate(supervisor, ov.Reqres)

		if err := supervisor.RestoreStartupApps(ctx); err != nil {
			log.Error("failed to restore startup apps", "err", err)
		}
	}

	groupMgr := groups.NewManager(ov.PeerId(), ov.Reqres)

	debug := debugfanout.New()
	debugSubs := newDebugOverlayBridge(ov, debug)
	defer debugSubs.closeAll()

	go dispatchReservedTopics(ctx, ov, delegate, groupMgr)

	runtimeDir := filepath.Dir(cfg.CliSocketPath)
	if runtimeDir == "" || runtimeDir == "." {
		runtimeDir = "/run/hyveos"
	}
	srv, err := bridge.NewServer(runtimeDir, -1, bridge.Deps{
		Overlay:      ov,
		KV:           db,
		Store:        store,
		FileTransfer: fileTransfer,
		Apps:         supervisor,
		AppsDelegate: delegate,
		Debug:        debug,
		Groups:       groupMgr,
	})
	if err != nil {
		return fmt.Errorf("hyveosd: start bridge: %w", err)
	}
	defer srv.Close()

	watchedInterfaces := meshInterfaceNames(cfg)
	if len(watchedInterfaces) > 0 {
		log.Info("configured mesh interfaces", "interfaces", watchedInterfaces)
		neighbours, err := newNeighbourRunner(ov, debug, watchedInterfaces, neighside.DefaultSocketPath)
		if err != nil {
			log.Error("neighbour resolver disabled", "err", err)
		} else {
			defer neighbours.Close()
			go neighbours.Run(ctx)
		}
	}

	if _, err := ov.Bootstrap(ctx, nil); err != nil {
		log.Error("DHT bootstrap failed", "err", err)
	}

	log.Info("bridge listening", "socket", filepath.Join(runtimeDir, "bridge.sock"))
	return srv.Serve(ctx)
}

// meshInterfaceNames collects every interface name the config asks the
// neighbour resolver to watch, deduplicated, preserving the batman/wifi
// interfaces even if they were omitted from the generic interfaces list.
func meshInterfaceNames(cfg config.Config) []string {
	seen := make(map[string]struct{}, len(cfg.Interfaces)+2)
	var out []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range cfg.Interfaces {
		add(name)
	}
	add(cfg.BatmanInterface)
	add(cfg.WifiInterface)
	return out
}

// dispatchReservedTopics routes req-resp requests on the daemon's reserved
// topics (apps.TopicList/TopicStop, groups.TopicGroup) to their owning
// sub-system, and leaves every other topic for bridge-side req_res.subscribe
// callers to pick up from Overlay.Reqres.Incoming() themselves.
//
// TODO: once more than two reserved-topic owners exist, this should become
// a small registry keyed by topic prefix instead of an if/else chain.
func dispatchReservedTopics(ctx context.Context, ov *overlay.Overlay, appsDelegate *apps.PeerDelegate, groupMgr *groups.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-ov.Reqres.Incoming():
			if !ok {
				return
			}
			switch {
			case appsDelegate != nil && (req.Topic == apps.TopicList || req.Topic == apps.TopicStop):
				go appsDelegate.HandleIncoming(ctx, req)
			case req.Topic == groups.TopicGroup:
				go groupMgr.HandleIncoming(req)
			}
		}
	}
}

// debugOverlayBridge wires debugfanout's reference-counted broadcast (spec
// §4.5) to the overlay's own pub/sub: once a logical debug topic gains its
// first subscriber, an overlay subscription to the matching
// "script/debug/<topic>" wire topic is opened and forwarded into the
// fanout; it's closed again once the last local subscriber drops off.
type debugOverlayBridge struct {
	ov   *overlay.Overlay
	fan  *debugfanout.Fanout
	mu   sync.Mutex
	subs map[debugfanout.Topic]*overlay.Subscription
}

func newDebugOverlayBridge(ov *overlay.Overlay, fan *debugfanout.Fanout) *debugOverlayBridge {
	b := &debugOverlayBridge{ov: ov, fan: fan, subs: make(map[debugfanout.Topic]*overlay.Subscription)}
	fan.OnActivate = b.activate
	fan.OnDeactivate = b.deactivate
	return b
}

func (b *debugOverlayBridge) activate(topic debugfanout.Topic) {
	sub, err := b.ov.Subscribe("script/debug/" + string(topic))
	if err != nil {
		return
	}
	b.mu.Lock()
	b.subs[topic] = sub
	b.mu.Unlock()

	go func() {
		for {
			msg, err := sub.Next()
			if err != nil {
				return
			}
			b.fan.Publish(topic, msg)
		}
	}()
}

func (b *debugOverlayBridge) deactivate(topic debugfanout.Topic) {
	b.mu.Lock()
	sub, ok := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()
	if ok {
		sub.Close()
	}
}

func (b *debugOverlayBridge) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, sub := range b.subs {
		sub.Close()
		delete(b.subs, topic)
	}
}
