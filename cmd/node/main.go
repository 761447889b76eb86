// Command node starts a Tradepost registry node.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tradepost-labs/tradepost/chain"
	"github.com/tradepost-labs/tradepost/config"
	"github.com/tradepost-labs/tradepost/core"
	"github.com/tradepost-labs/tradepost/crypto/certgen"
	"github.com/tradepost-labs/tradepost/events"
	"github.com/tradepost-labs/tradepost/hook"
	"github.com/tradepost-labs/tradepost/indexer"
	"github.com/tradepost-labs/tradepost/rpc"
	"github.com/tradepost-labs/tradepost/storage"
	"github.com/tradepost-labs/tradepost/vm"
	"github.com/tradepost-labs/tradepost/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tradepost-labs/tradepost/vm/modules/assets"
	_ "github.com/tradepost-labs/tradepost/vm/modules/deals"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file (.json or .yaml)")
	keyPath := flag.String("key", "sealer.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new sealer key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("TRADEPOST_PASSWORD")
	if password == "" {
		log.Println("WARNING: TRADEPOST_PASSWORD not set — keystore will use an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key: %s\n", w.PubKey())
		fmt.Printf("Account address: %s\n", w.Address())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- load sealer key ----
	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/registry")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	blockStore := storage.NewLevelBlockStore(db)

	// ---- initialise state ----
	state := storage.NewStateDB(db) // same DB, separate key prefixes

	// ---- initialise journal ----
	bc := core.NewBlockchain(blockStore)
	if err := bc.Init(); err != nil {
		log.Fatalf("journal init: %v", err)
	}

	// ---- genesis block (if fresh registry) ----
	if bc.Tip() == nil {
		genesisBlock, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			log.Fatalf("genesis: %v", err)
		}
		if err := bc.AddBlock(genesisBlock); err != nil {
			log.Fatalf("add genesis: %v", err)
		}
		log.Printf("Genesis block committed: %s", genesisBlock.Hash)
	}

	// ---- events ----
	emitter := events.NewEmitter()

	// ---- indexer (also the ownership-notification sink) ----
	idx := indexer.New(state, emitter)
	hooks := hook.New(idx)

	// ---- mempool ----
	mempool := core.NewMempool()

	// ---- VM executor ----
	exec := vm.NewExecutor(state, emitter, hooks)

	// ---- sealer ----
	sealer := chain.New(cfg, bc, state, mempool, exec, emitter, privKey)

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("TLS enabled for RPC")
	}

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(bc, mempool, state, idx, cfg.Genesis.ChainID)
	stream := rpc.NewEventStream(emitter)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, stream, cfg.RPCAuthToken, tlsCfg)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- sealing loop ----
	interval := time.Duration(cfg.SealMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sealer.Run(interval, done)
	}()
	log.Printf("Sealing every %s (sealer: %s)", interval, privKey.Public().Address())

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	// 1. Stop sealing first (no new blocks written)
	close(done)
	wg.Wait()

	// 2. Deferred calls run in LIFO: rpcServer.Stop → db.Close
	log.Println("Shutdown complete.")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}
