// Command sectionnode runs one elder/adult process of a section: the
// libp2p transport, chunk storage and cache, membership/DKG/anti-entropy
// state machines and the command dispatcher that ties inbound wire
// messages to the commands they produce.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	bls "github.com/herumi/bls-eth-go-binary/bls"

	"sectionnet/core"
	"sectionnet/pkg/config"
)

// -----------------------------------------------------------------------
// Globals & once-init
// -----------------------------------------------------------------------

var (
	logger *logrus.Logger

	nodeMu    sync.RWMutex
	netNode   *core.Node
	netStore  *core.ChunkStore
	netCache  *core.ChunkCache
	netPM     *core.PeerManagement
	netDisp   *core.Dispatcher
	netAgg    *core.SignatureAggregator
	netHC     *core.HealthChecker
	netLR     *core.LoadReporter
	netMember *core.MembershipManager
	netDKG    *core.DkgCoordinator
	netNK     *core.NetworkKnowledge
	netIdent  *core.NodeIdentity
	netRepl   *core.Replicator
	netCancel context.CancelFunc
)

func nodeInit(cmd *cobra.Command, _ []string) error {
	nodeMu.RLock()
	already := netNode != nil
	nodeMu.RUnlock()
	if already {
		return nil
	}

	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logrus.New()
	lv, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	logger.SetLevel(lv)
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logger.SetOutput(f)
	}

	identPath := viper.GetString("identity_path")
	if identPath == "" {
		identPath = "sectionnode.identity"
	}
	id, err := core.LoadIdentity(identPath)
	if err != nil {
		id, err = core.GenerateIdentity()
		if err != nil {
			return fmt.Errorf("generate identity: %w", err)
		}
		if err := core.SaveIdentity(identPath, id); err != nil {
			return fmt.Errorf("save identity: %w", err)
		}
		logger.WithField("name", fmt.Sprintf("%x", id.Name())).Info("generated new node identity")
	}

	ncfg := core.Config{
		ListenAddr:     cfg.Network.ListenAddr,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
	}
	n, err := core.NewNode(ncfg)
	if err != nil {
		return fmt.Errorf("new node: %w", err)
	}

	store, err := core.NewChunkStore(&core.StorageConfig{
		CacheDir:         "sectionnode-chunks",
		CacheSizeEntries: cfg.Storage.ClientCacheEntries,
	}, logger)
	if err != nil {
		n.Close()
		return fmt.Errorf("new chunk store: %w", err)
	}

	cache, err := core.NewChunkCache(cfg.Storage.ClientCacheEntries)
	if err != nil {
		n.Close()
		return fmt.Errorf("new chunk cache: %w", err)
	}

	pm := core.NewPeerManagement(n)

	// Single-node bootstrap genesis: this process stands up its own section
	// authority with itself as the sole elder. Joining an already-running
	// section instead of minting a new one is a membership-manager
	// operation (BeginJoin/CompleteJoin/ApplyJoin against a discovered SAP),
	// not something main's wiring performs; see DESIGN.md's bootstrap note.
	var genesisSK bls.SecretKey
	genesisSK.SetByCSPRNG()
	genesisPub := *genesisSK.GetPublicKey()
	genesis := core.SAP{
		Prefix:     core.NewPrefix(0, id.Name()),
		Elders:     []core.ElderInfo{{Name: id.Name(), Addr: ncfg.ListenAddr}},
		SectionKey: genesisPub,
		Generation: 1,
	}
	nk := core.NewNetworkKnowledge(genesis)
	nk.UpsertMember(core.MemberRecord{Name: id.Name(), Age: 1, State: core.StateJoined})

	agg := core.NewSignatureAggregator(time.Duration(cfg.Messaging.AggregationTTLSec)*time.Second, nil)
	dkg := core.NewDkgCoordinator(logger)
	member := core.NewMembershipManager(logger, nk)
	ae := core.NewAntiEntropyEngine(logger, nk, nil,
		time.Duration(cfg.AntiEntropy.BackoffInitialMillis)*time.Millisecond,
		time.Duration(cfg.AntiEntropy.BackoffCapSeconds)*time.Second,
		time.Duration(cfg.AntiEntropy.BackoffResetSeconds)*time.Second)

	// exec holds a reference to the Dispatcher, and NewDispatcher needs an
	// Executor up front, so exec.disp is patched in
	// once the dispatcher exists rather than threading a setter through it.
	exec := newNodeExecutor(logger, store, pm, nil, agg)
	disp := core.NewDispatcher(logger, exec, 256)
	exec.disp = disp

	disp.Register(core.KindServiceMsg, func(ctx context.Context, msg *core.WireMsg) ([]core.Command, error) {
		switch ae.Check(msg.Dst).Action {
		case core.AERedirect, core.AERetry, core.AEProbeDrop:
			return nil, core.ErrWrongPrefix
		}
		targets := nk.OwnSAP().ElderNames()
		return core.HandleStoreChunk(core.HashBytes(msg.Payload), msg.Payload, targets, id.Name())
	})

	disp.Register(core.KindBlsShareMsg, func(ctx context.Context, msg *core.WireMsg) ([]core.Command, error) {
		return []core.Command{core.AggregateCommand{
			SAP:        nk.OwnSAP(),
			ProposalID: msg.MsgID,
			Payload:    msg.Payload,
			ElderIdx:   msg.Src.ElderIdx,
			Share:      msg.Signature,
		}}, nil
	})

	disp.Register(core.KindNodeMsg, func(ctx context.Context, msg *core.WireMsg) ([]core.Command, error) {
		return nil, nil
	})

	notifier := &faultNotifierAdapter{logger: logger}
	hc := core.NewHealthChecker(newPingAdapter(pm), notifier, nil)
	notifier.hc = hc
	lr := core.NewLoadReporter(id.Name(), &loadSampler{exec: exec}, &loadBroadcaster{node: n}, core.BackpressureInterval, cfg.Storage.MaxConcurrentPerSource)

	replCfg, err := loadReplicationConfig(defaultReplicationConfigPath)
	if err != nil {
		n.Close()
		return fmt.Errorf("load replication config: %w", err)
	}
	repl := core.NewReplicator(replCfg, logger, store, pm)
	exec.repl = repl

	nodeMu.Lock()
	netNode, netStore, netCache, netPM = n, store, cache, pm
	netDisp, netAgg, netHC, netLR = disp, agg, hc, lr
	netMember, netDKG, netNK, netIdent = member, dkg, nk, id
	netRepl = repl
	nodeMu.Unlock()

	return nil
}

// -----------------------------------------------------------------------
// Controllers
// -----------------------------------------------------------------------

func nodeStart(cmd *cobra.Command, _ []string) error {
	nodeMu.RLock()
	n, disp, lr, hc, repl := netNode, netDisp, netLR, netHC, netRepl
	nodeMu.RUnlock()
	if n == nil {
		return fmt.Errorf("not initialised")
	}

	ctx, cancel := context.WithCancel(context.Background())
	nodeMu.Lock()
	netCancel = cancel
	nodeMu.Unlock()

	go n.ListenAndServe()
	go func() {
		if err := disp.Run(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Warn("dispatcher stopped")
		}
	}()
	lr.Start()
	repl.Start()
	_ = hc // already running its own ping loop since NewHealthChecker, stopped in shutdown

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		shutdown()
		os.Exit(0)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "sectionnode started, name=%x\n", netIdent.Name())
	return nil
}

func nodeStop(cmd *cobra.Command, _ []string) error {
	shutdown()
	fmt.Fprintln(cmd.OutOrStdout(), "stopped")
	return nil
}

func shutdown() {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	if netCancel != nil {
		netCancel()
	}
	if netLR != nil {
		netLR.Stop()
	}
	if netHC != nil {
		netHC.Stop()
	}
	if netRepl != nil {
		netRepl.Stop()
	}
	if netDisp != nil {
		netDisp.Close()
	}
	if netNode != nil {
		_ = netNode.Close()
	}
	netNode = nil
}

func nodeStatus(cmd *cobra.Command, _ []string) error {
	nodeMu.RLock()
	n, nk := netNode, netNK
	nodeMu.RUnlock()
	if n == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "not running")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "peers=%d elders=%d\n", len(n.Peers()), len(nk.Elders()))
	return nil
}

// -----------------------------------------------------------------------
// Cobra tree
// -----------------------------------------------------------------------

var rootCmd = &cobra.Command{Use: "sectionnode", Short: "Run one section-node process", PersistentPreRunE: nodeInit}

var startCmd = &cobra.Command{Use: "start", Short: "Start the node", Args: cobra.NoArgs, RunE: nodeStart}
var stopCmd = &cobra.Command{Use: "stop", Short: "Stop the node", Args: cobra.NoArgs, RunE: nodeStop}
var statusCmd = &cobra.Command{Use: "status", Short: "Show peer/elder counts", Args: cobra.NoArgs, RunE: nodeStatus}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, identityRootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
