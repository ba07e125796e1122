package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	httpd "github.com/vincentwuo/evhttpd"
	"github.com/vincentwuo/evhttpd/pkg/util"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type config struct {
	BindAddr        string
	DocRoot         string
	WorkerNum       int
	MaxRequests     int
	MaxConns        int64
	ReadBufferSize  int
	WriteBufferSize int
	PathMax         int
	SendKbps        int
	AcceptRate      float64
	LogLevel        string
	LogPaths        []string
}

var (
	bindAddr        = flag.String("bind", "", "addr to accept http requests on. Example: 0.0.0.0:8080")
	docRoot         = flag.String("root", "./www", "document root the request paths are resolved against")
	workerNum       = flag.Int("n", 8, "the number of workers handling parsed requests. '0' uses the number of CPU cores")
	maxRequests     = flag.Int("q", 10000, "max requests waiting for a worker")
	maxConns        = flag.Int64("c", 65536, "max concurrent connections. '0' means no limit")
	readBufferSize  = flag.Int("rbuf", 2048, "per connection read buffer in bytes, bounds the request size")
	writeBufferSize = flag.Int("wbuf", 1024, "per connection buffer for status line and headers")
	pathMax         = flag.Int("pathmax", 200, "max length of a resolved file path")
	sendKbps        = flag.Int("wkbps", 0, "kbyte per second for sending responses. '0' means no limit")
	acceptRate      = flag.Float64("accept", 0, "new connections accepted per second. '0' means no limit")
	logLevel        = flag.String("log", "info", "log level: debug, info, warn, error")
	configFileDir   = flag.String("f", "", "config file dir.")
)

func main() {
	flag.Parse()
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)

	cnf := config{
		BindAddr:        *bindAddr,
		DocRoot:         *docRoot,
		WorkerNum:       *workerNum,
		MaxRequests:     *maxRequests,
		MaxConns:        *maxConns,
		ReadBufferSize:  *readBufferSize,
		WriteBufferSize: *writeBufferSize,
		PathMax:         *pathMax,
		SendKbps:        *sendKbps,
		AcceptRate:      *acceptRate,
		LogLevel:        *logLevel,
	}
	//read configs from the config file, flags give the defaults
	if *configFileDir != "" {
		viper.SetConfigFile(*configFileDir)
		if err := viper.ReadInConfig(); err != nil {
			util.Logger().Fatal("read config file error: " + err.Error())
		}
		if err := viper.Unmarshal(&cnf); err != nil {
			util.Logger().Fatal("unmarshal config file error: " + err.Error())
		}
	}

	if err := util.SetLevel(cnf.LogLevel); err != nil {
		util.Logger().Fatal("log level error: " + err.Error())
	}
	if len(cnf.LogPaths) > 0 {
		if err := util.LoggerOutputPaths(cnf.LogPaths); err != nil {
			util.Logger().Fatal("log paths error: " + err.Error())
		}
	}

	srv, err := newServer(cnf)
	if err != nil {
		util.Logger().Fatal("create server error: " + err.Error())
	}
	defer func() {
		util.Logger().Info("closing server...")
		srv.Close()
		util.Logger().Info("closing server...done")
	}()

	go func() {
		if err := srv.Serve(); err != nil && !errors.Is(err, httpd.ErrServerClosed) {
			util.Logger().Error("serve error", zap.Error(err))
		}
	}()
	util.Logger().Info("listening", zap.String("addr", cnf.BindAddr))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for {
		select {
		case <-ctrlc:
			return
		case <-hup:
			reload(srv, cnf)
		}
	}
}

// reload re-reads the config file and applies the settings that can change
// while serving: the connection cap and the log level.
func reload(srv *httpd.Server, cnf config) {
	if *configFileDir == "" {
		util.Logger().Info("no config file to reload")
		return
	}
	if err := viper.ReadInConfig(); err != nil {
		util.Logger().Error("reload config file error", zap.Error(err))
		return
	}
	if err := viper.Unmarshal(&cnf); err != nil {
		util.Logger().Error("unmarshal config file error", zap.Error(err))
		return
	}
	if err := util.SetLevel(cnf.LogLevel); err != nil {
		util.Logger().Error("log level error", zap.Error(err))
	}
	srv.SetMaxConns(cnf.MaxConns)
}

func newServer(cnf config) (*httpd.Server, error) {
	if cnf.BindAddr == "" {
		return nil, errors.New("bind addr is empty")
	}
	if cnf.WorkerNum == 0 {
		cnf.WorkerNum = runtime.NumCPU()
	}
	ln, err := httpd.Listen(cnf.BindAddr)
	if err != nil {
		return nil, err
	}
	srv, err := httpd.NewServer(ln,
		httpd.WithDocRoot(cnf.DocRoot),
		httpd.WithWorkers(cnf.WorkerNum),
		httpd.WithMaxRequests(cnf.MaxRequests),
		httpd.WithMaxConns(cnf.MaxConns),
		httpd.WithReadBufferSize(cnf.ReadBufferSize),
		httpd.WithWriteBufferSize(cnf.WriteBufferSize),
		httpd.WithPathMax(cnf.PathMax),
		httpd.WithSendBandwidth(float64(cnf.SendKbps)*1024),
		httpd.WithAcceptRate(cnf.AcceptRate),
	)
	if err != nil {
		ln.Close()
		return nil, err
	}
	return srv, nil
}
