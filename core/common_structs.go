package core

// common_structs.go – centralised struct definitions referenced across
// modules: P2P node/peer types, peer health tracking, and the on-disk chunk
// cache. Kept in one file, as in the source this module started from, to
// avoid cyclic imports between network.go, fault_tolerance.go and storage.go.
// -----------------------------------------------------------------------------

import (
	"context"
	"net"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	host "github.com/libp2p/go-libp2p/core/host"
	log "github.com/sirupsen/logrus"
)

//---------------------------------------------------------------------
// Network health checker structs
//---------------------------------------------------------------------

type peerStat struct {
	EWMA       float64
	Misses     int
	LastUpdate time.Time
}

type HealthChecker struct {
	mu        sync.RWMutex
	peers     map[Address]*peerStat
	interval  time.Duration
	alpha     float64
	maxRTT    float64
	maxMisses int
	ping      Pinger
	changer   FaultNotifier
	stop      chan struct{}
}

type PeerInfo struct {
	Address Address `json:"address"`
	RTT     float64 `json:"rtt_ms"`
	Misses  int     `json:"misses"`
	Updated int64   `json:"updated_unix"`
}

//---------------------------------------------------------------------
// P2P structs
//---------------------------------------------------------------------

// Address is a 20-byte peer/account-style identifier, used both for libp2p
// peer bookkeeping (PeerInfo, HealthChecker) and as the stable identifier a
// caller pins a health check or resource limit to.
type Address [20]byte

type NodeID string

type Peer struct {
	ID      NodeID
	Addr    string
	Latency time.Duration
	Conn    net.Conn
}

type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

type Node struct {
	host      host.Host
	pubsub    *pubsub.PubSub
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	topicLock sync.RWMutex
	subLock   sync.RWMutex
	peerLock  sync.RWMutex
	peers     map[NodeID]*Peer
	nat       *NATManager
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
}

//---------------------------------------------------------------------
// Replication
//---------------------------------------------------------------------

// ReplicationConfig tunes the chunk-replication gossip loop.
type ReplicationConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"` // per-source concurrency cap; loaded but not enforced by Replicator
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	Fanout         uint          `yaml:"fanout"` // √N gossip fan-out for inventory announces
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Replicator gossips chunk inventory and serves/fetches chunk holders,
// adapted from a block-propagation gossip loop to chunk replication: "inv"
// announces addresses instead of block hashes, "getdata"/"chunk" fetch/serve
// chunk bytes instead of blocks.
type Replicator struct {
	logger  *log.Logger
	cfg     *ReplicationConfig
	store   *ChunkStore
	pm      PeerManager
	closing chan struct{}
	wg      sync.WaitGroup
}

//---------------------------------------------------------------------
// Storage structs
//---------------------------------------------------------------------

type diskEntry struct {
	path string
	size int64
	at   time.Time
}

type diskLRU struct {
	mu    sync.Mutex
	dir   string
	max   int
	index map[string]*diskEntry
	order []*diskEntry
}

// ChunkStore persists content-addressed chunks to a local disk-backed LRU,
// the node-local half of the chunk replication design (see replication.go
// for the peer-to-peer fan-out half).
type ChunkStore struct {
	logger *log.Logger
	cfg    *StorageConfig
	cache  *diskLRU
}

type StorageConfig struct {
	CacheDir         string `yaml:"cache_dir"`
	CacheSizeEntries int    `yaml:"cache_size_entries"` // max # entries in on-disk LRU
}

//---------------------------------------------------------------------
// Peer management abstraction (used by replication)
//---------------------------------------------------------------------

type PeerManager interface {
	Peers() []PeerInfo
	Connect(addr string) error
	Disconnect(id NodeID) error
	Sample(n int) []string
	SendAsync(peerID, proto string, code byte, payload []byte) error
	Subscribe(proto string) <-chan InboundMsg
	Unsubscribe(proto string)
}

type InboundMsg struct {
	PeerID  string `json:"peer_id"` // sender's peer-ID
	Code    byte   `json:"code"`    // protocol-level message code
	Payload []byte `json:"payload"` // opaque payload

	Topic string  `json:"topic,omitempty"` // optional pub-sub topic
	From  Address `json:"from,omitempty"`  // optional address
	Ts    int64   `json:"ts"`              // unix-milliseconds timestamp
}

type NetworkMessage struct {
	Source    Address `json:"source"`
	Target    Address `json:"target"`
	MsgType   string  `json:"type"`
	Content   []byte  `json:"content"`
	Timestamp int64   `json:"timestamp"`
	Topic     string  `json:"topic"`
}
