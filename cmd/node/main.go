// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command node brings up a single shadowmesh core node: it wires C1-C9
// together via control.Plane, mints itself a starting voucher supply from
// its own genesis vertex, and runs the consensus sweep loop until
// interrupted. There is no wire transport (spec.md's Non-goals exclude
// one), so Run's committee sampling has nothing to talk to beyond this
// process — loopbackRequester below stands in for the real network poll a
// multi-node deployment would use, the same stand-in role
// control_test.go's fakeRequester plays in tests, promoted here to a
// documented, intentional single-node mode rather than a test fixture.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shadowmesh/core/config"
	"github.com/shadowmesh/core/control"
	"github.com/shadowmesh/core/crypto/fingerprint"
	"github.com/shadowmesh/core/crypto/pqsig"
	"github.com/shadowmesh/core/dag"
	"github.com/shadowmesh/core/ledger"
)

var (
	network     = flag.String("network", "local", "Parameter preset: mainnet, testnet, or local")
	tick        = flag.Duration("tick", 0, "Consensus sweep interval (0 uses the preset's MinRoundInterval)")
	supply      = flag.Uint64("supply", 1_000_000, "Genesis voucher supply minted to this node's own account")
	metricsAddr = flag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")
)

func main() {
	flag.Parse()
	logger := log.NewLogger("shadowmesh-node")

	if err := run(logger); err != nil {
		logger.Error("node exited with error", log.Err(err))
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	params := config.Load(*network)
	sweepTick := *tick
	if sweepTick <= 0 {
		sweepTick = params.MinRoundInterval
	}

	authorKey, err := pqsig.Keypair()
	if err != nil {
		return fmt.Errorf("generate node key: %w", err)
	}
	issuerPK := authorKey.PublicKey().Bytes()

	genesis := &dag.Vertex{Payload: []byte("genesis"), Timestamp: 0}
	if err := genesis.Sign(authorKey); err != nil {
		return fmt.Errorf("sign genesis vertex: %w", err)
	}

	var reg prometheus.Registerer
	if *metricsAddr != "" {
		promReg := prometheus.NewRegistry()
		reg = promReg
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", log.Err(err))
			}
		}()
		defer server.Close()
	}

	plane, err := control.New(params, control.Deps{
		VertexKV:   memdb.New(),
		PeerKV:     memdb.New(),
		Requester:  loopbackRequester{},
		Logger:     logger,
		AuthorKey:  authorKey,
		GenesisID:  genesis.ID,
		Genesis:    genesis,
		IssuerPK:   issuerPK,
		Registerer: reg,
	})
	if err != nil {
		return fmt.Errorf("construct control plane: %w", err)
	}

	// Fill the sampler with K local committee entries for loopbackRequester
	// to answer for; a fresh peer store has no connected peer to sample.
	for i := 0; i < params.K; i++ {
		if err := plane.Peers().RecordSuccess(ids.NodeID{byte(i + 1)}, 0); err != nil {
			return fmt.Errorf("register loopback peer: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	self := ids.ID(fingerprint.Hash(issuerPK))
	mint := &ledger.Payload{Kind: ledger.KindMint, To: self, Amount: uint256.NewInt(*supply)}
	if err := mint.Sign(authorKey); err != nil {
		return fmt.Errorf("sign genesis mint: %w", err)
	}
	if _, err := plane.SubmitTransaction(ctx, mint); err != nil {
		return fmt.Errorf("submit genesis mint: %w", err)
	}
	logger.Info("genesis mint submitted", log.Stringer("account", self), log.Uint64("amount", *supply))

	events, unsubscribe := plane.SubscribeEvents()
	defer unsubscribe()
	go func() {
		for ev := range events {
			logger.Info("event",
				log.String("category", ev.Category.String()),
				log.String("kind", ev.Kind),
				log.String("detail", ev.Detail))
		}
	}()

	logger.Info("node running",
		log.String("network", *network),
		log.Stringer("genesis", genesis.ID),
		log.String("tick", sweepTick.String()))

	if err := plane.Run(ctx, sweepTick); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	account := plane.GetBalance(self)
	logger.Info("final balance", log.Uint64("balance", account.Balance.Uint64()), log.Uint64("nonce", account.Nonce))
	return nil
}

// loopbackRequester always prefers the first candidate it's offered. A
// single-process node has no peers to poll over a real onion circuit (the
// wire protocol consensus.VoteRequester would use is out of scope per
// spec.md's Non-goals), so committee queries resolve locally instead of
// timing out — config.Local's K=5/AlphaPreference=4 preset is tuned to
// still reach finality with this trivial an oracle.
type loopbackRequester struct{}

func (loopbackRequester) RequestPreference(_ context.Context, _ ids.NodeID, candidates []ids.ID) (ids.ID, error) {
	return candidates[0], nil
}
