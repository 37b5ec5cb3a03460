package main

import (
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/oltp-incubator/tinyoltp/oltp/catalog"
	"github.com/oltp-incubator/tinyoltp/oltp/config"
	"github.com/oltp-incubator/tinyoltp/oltp/site"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "config file path (TOML)")
	statusAddr = flag.String("status-addr", "127.0.0.1:20180", "address for /metrics and pprof")
	memOnly    = flag.Bool("mem", false, "use the in-memory engine instead of badger")
)

func main() {
	flag.Parse()
	conf := config.NewDefaultConfig()
	if *configPath != "" {
		if err := conf.LoadFromFile(*configPath); err != nil {
			log.Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
		}
	}
	if err := conf.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	initLogger(conf.LogLevel)
	log.Info("starting tinyoltp", zap.Int("site", conf.SiteID), zap.Int("partitions", conf.Partitions))

	cat := defaultCatalog()
	storage.SealFragments()
	cat.Seal()

	factory := func(partition int) (storage.Engine, error) {
		if *memOnly {
			return storage.NewMemEngine(partition), nil
		}
		path := filepath.Join(conf.DBPath, "p"+strconv.Itoa(partition))
		return storage.NewBadgerEngine(partition, path)
	}
	s, err := site.New(conf, cat, factory)
	if err != nil {
		log.Fatal("failed to build site", zap.Error(err))
	}
	s.Start()

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*statusAddr, nil); err != nil {
			log.Warn("status server stopped", zap.Error(err))
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sc
	log.Info("got signal, shutting down", zap.Stringer("signal", sig))
	s.Shutdown()
	log.Info("shutdown complete")
}

func initLogger(level string) {
	lg, p, err := log.InitLogger(&log.Config{Level: level})
	if err != nil {
		log.Fatal("failed to init logger", zap.Error(err))
	}
	log.ReplaceGlobals(lg, p)
}

// defaultCatalog registers the built-in demo schema: a key-value table
// plus a read procedure and a write procedure over it.
func defaultCatalog() *catalog.Catalog {
	cat := catalog.New()
	cat.AddTable("kv")
	mustAdd := func(p *catalog.Procedure) {
		if err := cat.AddProcedure(p); err != nil {
			log.Fatal("bad catalog", zap.Error(err))
		}
	}
	mustAdd(&catalog.Procedure{
		ID: 1, Name: "GetValue", ReadOnly: true,
		ReadTables: []string{"kv"},
		Run: func(exec catalog.BatchExecutor, params [][]byte) ([]*storage.ResultSet, error) {
			return exec.ExecuteBatch([]catalog.Statement{{
				FragmentID: storage.FragGetRow,
				Partition:  exec.BasePartition(),
				Params:     [][]byte{[]byte("kv"), params[0]},
				ReadOnly:   true,
			}})
		},
	})
	mustAdd(&catalog.Procedure{
		ID: 2, Name: "PutValue",
		ReadTables:  []string{"kv"},
		WriteTables: []string{"kv"},
		Run: func(exec catalog.BatchExecutor, params [][]byte) ([]*storage.ResultSet, error) {
			return exec.ExecuteBatch([]catalog.Statement{{
				FragmentID: storage.FragPutRow,
				Partition:  exec.BasePartition(),
				Params:     [][]byte{[]byte("kv"), params[0], params[1]},
			}})
		},
	})
	return cat
}
