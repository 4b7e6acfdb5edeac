// Package p2p provides the pub/sub bus the signaling layer rides on: a
// libp2p host plus gossipsub, one topic per call. The bus gives at-most-once
// delivery with no ordering guarantee across senders — exactly the contract
// the signaling layer is written against.
package p2p

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/sangam-app/callcore/internal/util"
)

var log = logging.Logger("p2p")

func init() {
	// Silence noisy libp2p subsystems — dial failures and backoff errors
	// go to stderr by default and pollute terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
	logging.SetLogLevel("autorelay", "info")
}

// Node is a libp2p host carrying gossipsub topics for call signaling.
type Node struct {
	Host  host.Host
	ps    *pubsub.PubSub
	table *PeerTable

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
}

type mdnsNotifee struct {
	h     host.Host
	table *PeerTable
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	n.table.Touch(pi.ID.String())
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, nil
		}
		log.Warnf("corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, fmt.Errorf("save identity key: %w", err)
	}
	return priv, nil
}

// New starts a libp2p host on the given TCP port and joins the gossip mesh.
// mdnsTag enables LAN peer discovery when non-empty.
func New(ctx context.Context, listenPort int, keyFile, mdnsTag string) (*Node, error) {
	priv, err := loadOrCreateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("p2p: identity key: %w", err)
	}

	listen, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort))
	if err != nil {
		return nil, fmt.Errorf("p2p: listen addr: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(listen),
	)
	if err != nil {
		return nil, fmt.Errorf("p2p: start host: %w", err)
	}

	table := NewPeerTable(0)
	if mdnsTag != "" {
		md := mdns.NewMdnsService(h, mdnsTag, &mdnsNotifee{h: h, table: table})
		if err := md.Start(); err != nil {
			log.Warnf("mdns discovery unavailable: %v", err)
		}
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("p2p: gossipsub: %w", err)
	}

	log.Infof("node up: %s (port %d)", h.ID(), listenPort)
	return &Node{
		Host:   h,
		ps:     ps,
		table:  table,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Peers lists recently discovered peers with their current connectedness.
func (n *Node) Peers() []SeenPeer {
	peers := n.table.snapshot()
	for i := range peers {
		id, err := peer.Decode(peers[i].ID)
		if err != nil {
			continue
		}
		peers[i].Connected = n.Host.Network().Connectedness(id) == network.Connected
	}
	return peers
}

// ID returns the host's peer identity, used as the local participant ID.
func (n *Node) ID() string {
	return n.Host.ID().String()
}

// joinTopic returns the cached topic handle, joining on first use.
// Topic handles must be cached: gossipsub allows only one Join per topic.
func (n *Node) joinTopic(name string) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, fmt.Errorf("p2p: node closed")
	}
	if t, ok := n.topics[name]; ok {
		return t, nil
	}
	t, err := n.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("p2p: join topic %s: %w", name, err)
	}
	n.topics[name] = t
	return t, nil
}

// Publish sends one message on a topic.
func (n *Node) Publish(topic string, data []byte) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()
	return t.Publish(ctx, data)
}

// Subscribe delivers raw messages published on a topic, including self-sent
// ones. The cancel func stops delivery and closes the channel.
func (n *Node) Subscribe(topic string) (<-chan []byte, func(), error) {
	t, err := n.joinTopic(topic)
	if err != nil {
		return nil, nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, nil, fmt.Errorf("p2p: subscribe topic %s: %w", topic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte, 64)

	go func() {
		defer close(out)
		for {
			m, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- m.Data:
			default:
				// Drop on slow consumer; signaling tolerates loss.
				log.Warnf("topic %s: dropping message for slow subscriber", topic)
			}
		}
	}()

	once := sync.Once{}
	stop := func() {
		once.Do(func() {
			cancel()
			sub.Cancel()
		})
	}
	return out, stop, nil
}

// Close shuts down the host and leaves all topics.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	topics := n.topics
	n.topics = nil
	n.mu.Unlock()

	for _, t := range topics {
		_ = t.Close()
	}
	return n.Host.Close()
}
