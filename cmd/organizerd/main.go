// Command organizerd runs the block-chain organizer core as a standalone
// process: it wires the pool/validator/store/organizer/subscriber
// packages together behind the gRPC and HTTP query surfaces in
// internal/transport, following cmd/api-gateway/main.go's structure
// (flags, zap logger, interceptor chain, signal-based graceful shutdown).
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	grpcMiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpcZap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpcRecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpcCtxTags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	grpcPrometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/btcsuite/btcd/wire"
	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/chainstate"
	"github.com/nodecore/blockorganizer/internal/chain/dispatch"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/nodecore/blockorganizer/internal/chain/organizer"
	"github.com/nodecore/blockorganizer/internal/chain/pool"
	"github.com/nodecore/blockorganizer/internal/chain/store/memstore"
	"github.com/nodecore/blockorganizer/internal/chain/subscriber"
	"github.com/nodecore/blockorganizer/internal/chain/validator"
	"github.com/nodecore/blockorganizer/internal/config"
	"github.com/nodecore/blockorganizer/internal/history"
	"github.com/nodecore/blockorganizer/internal/metrics"
	"github.com/nodecore/blockorganizer/internal/transport"
	"github.com/nodecore/blockorganizer/internal/transport/httpapi"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()
	grpcZap.ReplaceGrpcLoggerV2(logger)

	var cfg config.Config
	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		logger.Fatal("failed to parse arguments", zap.Error(err))
	}

	cores := cfg.Cores
	if cores <= 0 {
		cores = runtime.GOMAXPROCS(0)
	}
	generalWorkers := cores * 4

	dispatcher := dispatch.New(generalWorkers, cores, cfg.Priority)
	chainStore := memstore.New()

	populator := chainstate.New(chainstate.Settings{
		PowLimitBits: cfg.PowLimitBits,
		ActivationHeights: map[model.ForkFlag]int32{
			model.ForkBIP16:  0,
			model.ForkBIP30:  0,
			model.ForkBIP34:  0,
			model.ForkBIP65:  0,
			model.ForkBIP66:  0,
			model.ForkBIP68:  0,
			model.ForkCSV:    0,
			model.ForkSegwit: 0,
		},
	}, chainStore)

	v := validator.New(cfg.PowLimitBits, populator, chainStore, dispatcher)
	blockPool := pool.New(int32(cfg.ReorganizationLimit))
	blockPool.SetCapacity(int32(cfg.BlockPoolCapacity))
	sub := subscriber.New(dispatcher)
	org := organizer.New(blockPool, chainStore, v, sub, logger)

	orgMetrics := metrics.NewOrganizer()
	sub.Subscribe(func(code chainerr.Code, height int32, incoming, outgoing []*model.Block) {
		if code == chainerr.Success {
			orgMetrics.ObserveReorganize(len(outgoing))
		}
		orgMetrics.SetPoolSize(blockPool.Size())
	})

	var historyReader transport.HistoryReader
	if projection, err := history.New(cfg.ClickHouseDSN, logger); err != nil {
		logger.Warn("history projection disabled: could not open clickhouse", zap.Error(err))
	} else {
		defer func() {
			_ = projection.Close()
		}()
		sub.Subscribe(projection.OnReorganize)
		historyReader = projection
	}

	organizeFunc := func(ctx context.Context, raw *wire.MsgBlock) chainerr.Code {
		started := time.Now()
		blk := transport.BlockFromWire(raw)
		code := org.Organize(ctx, blk)
		orgMetrics.ObserveOrganize(code, started)
		if code == chainerr.Success && cfg.RelayTransactions {
			forks := org.CurrentForks()
			for _, tx := range blk.Transactions {
				org.OrganizeTransaction(ctx, tx, forks)
			}
		}
		return code
	}

	organizeTxFunc := func(ctx context.Context, raw *wire.MsgTx) chainerr.Code {
		tx := transport.TransactionFromWire(raw)
		return org.OrganizeTransaction(ctx, tx, org.CurrentForks())
	}

	chain := []grpc.UnaryServerInterceptor{
		grpcRecovery.UnaryServerInterceptor(),
		grpcCtxTags.UnaryServerInterceptor(),
		grpcPrometheus.UnaryServerInterceptor,
		grpcZap.UnaryServerInterceptor(logger),
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpcMiddleware.ChainUnaryServer(chain...)),
	)
	grpcPrometheus.EnableHandlingTimeHistogram()
	grpcPrometheus.Register(grpcServer)

	transport.RegisterOrganizerServer(grpcServer, transport.NewService(organizeFunc, organizeTxFunc, chainStore, historyReader, logger))

	socket, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("net.Listen error", zap.Error(err))
	}
	go func() {
		if serveErr := grpcServer.Serve(socket); serveErr != nil {
			logger.Fatal("start grpc server", zap.Error(serveErr))
		}
	}()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down grpc server")
		grpcServer.GracefulStop()
	}()

	s := httpapi.NewServer(cfg.HTTPAddr, organizeFunc, organizeTxFunc, chainStore, historyReader, logger)
	go func() {
		<-ctx.Done()
		logger.Info("shutting down the http server")
		if err := s.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown http server", zap.Error(err))
		}
	}()

	logger.Info("starting organizerd",
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Int("reorganization_limit", cfg.ReorganizationLimit),
	)
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("failed to listen and serve", zap.Error(err))
	}

	org.Stop()
	org.Close()
}
