package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"

	"prepmate/peerlink/internal/config"
	"prepmate/peerlink/internal/domain"
	"prepmate/peerlink/internal/match"
	"prepmate/peerlink/internal/media"
	"prepmate/peerlink/internal/session"
	"prepmate/peerlink/internal/store/memstore"
	"prepmate/peerlink/internal/store/redistore"
	"prepmate/peerlink/internal/store/relaystore"
	"prepmate/peerlink/internal/webrtc"
)

const helpText = `peerlink - Peer-to-peer practice calls over WebRTC

Usage:
  peerlink random        Search the queue for a random partner
  peerlink invite        Mint a private room and print its invite link
  peerlink join <link>   Join a room by its link

Environment Variables:
  PEERLINK_STORE           Store backend: memory, redis or relay (default memory)
  PEERLINK_RELAY_URL       Relay WebSocket URL, required for the relay store
  PEERLINK_REDIS_ADDR      Redis address (default localhost:6379)
  PEERLINK_REDIS_PASSWORD  Redis password
  PEERLINK_REDIS_DB        Redis database number (default 0)
  PEERLINK_STUN_SERVERS    Comma-separated STUN URLs
  PEERLINK_MATCH_WAIT      Random-match search bound (default 30s)
  PEERLINK_FEATURE_ROOT    Room link path root (default peer-practice)

Options:
  -h, --help  Show this help message
`

func main() {
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer cleanup()

	acquire := func(ctx context.Context) (domain.MediaSource, error) {
		return media.Open()
	}
	dial := func(src domain.MediaSource) (domain.Transport, error) {
		provider, _ := src.(webrtc.TrackProvider)
		return webrtc.NewPeer(cfg.STUNServers, provider)
	}

	matcher := match.NewMatcher(store, cfg.MatchWait)
	ctrl := session.NewController(store, matcher, acquire, dial, cfg.FeatureRoot)

	var mgr *session.Manager
	switch args[0] {
	case "random":
		log.Printf("[main] searching for a partner (up to %s)", cfg.MatchWait)
		mgr, err = ctrl.Random(ctx, "")
		if errors.Is(err, match.ErrNoPeer) {
			log.Fatalf("[main] no partner available right now, try again")
		}

	case "invite":
		inv := ctrl.Invite("")
		fmt.Printf("Share this link with your partner:\n  %s\n", ctrl.InviteLink(inv))
		log.Printf("[main] waiting in room %s", inv.RoomID)
		mgr, err = ctrl.Join(ctx, session.EntryFromInvite(inv))

	case "join":
		if len(args) < 2 {
			fmt.Print(helpText)
			os.Exit(1)
		}
		entry, perr := session.ParseEntry(args[1])
		if perr != nil {
			log.Fatalf("[main] %v", perr)
		}
		mgr, err = ctrl.Join(ctx, entry)

	default:
		fmt.Print(helpText)
		os.Exit(1)
	}

	if err != nil {
		if mgr != nil && mgr.Err() != "" {
			fmt.Fprintln(os.Stderr, mgr.Err())
		}
		log.Fatalf("[main] session: %v", err)
	}
	defer mgr.Close()

	mgr.OnRemoteTrack(func(kind string) {
		log.Printf("[main] partner %s is live", kind)
	})
	log.Printf("[main] in room %s as %s", mgr.Entry().RoomID, mgr.Entry().Role)

	<-ctx.Done()
	log.Printf("[main] hanging up")
}

// openStore builds the configured store backend and its cleanup.
func openStore(ctx context.Context, cfg *config.Config) (domain.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Printf("[main] using in-memory store (single process only)")
		return memstore.New(), func() {}, nil

	case config.StoreRedis:
		store, err := redistore.Connect(ctx, redistore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[main] using redis store at %s", cfg.RedisAddr)
		return store, func() { store.Close() }, nil

	case config.StoreRelay:
		store, err := relaystore.Dial(cfg.RelayURL)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[main] using relay store at %s", cfg.RelayURL)
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}
