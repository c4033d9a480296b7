// Command ringsd runs one overlay node: it binds the gRPC peer listener,
// starts the dispatch loop and stabilizer, optionally joins an existing
// ring through a seed node's HTTP facade, and serves its own facade.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	chord "github.com/croath/rings-node"
	"github.com/croath/rings-node/internal/cli"
	"github.com/croath/rings-node/internal/config"
	"github.com/croath/rings-node/internal/jsonrpc"
	"github.com/croath/rings-node/internal/logging"
)

func main() {
	cfg, err := cli.ParseFlags("ringsd", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.Must(cfg.Debug)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("ringsd exiting", "error", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	sm, err := chord.GenerateSessionManager()
	if err != nil {
		return err
	}
	log.Infow("node identity", "did", sm.Did())

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.ListenAddr)
	}
	gsrv := grpc.NewServer()
	tm := chord.NewGRPCTransportManager(gsrv, cfg.ListenAddr, cfg.RPCTimeout, cfg.ConnMaxIdle)
	go func() {
		if err := gsrv.Serve(ln); err != nil {
			log.Warnw("grpc server stopped", "error", err)
		}
	}()

	conf := chord.DefaultConfig(sm, tm, log)
	conf.StabilizeInterval = cfg.StabilizeInterval
	conf.SuccessorListSize = cfg.SuccessorListSize
	conf.ReplayWindow = cfg.ReplayWindow

	node, err := chord.Create(conf)
	if err != nil {
		return err
	}
	defer node.Shutdown()

	if cfg.StorePath != "" {
		vlog, err := chord.OpenVNodeLog(cfg.StorePath)
		if err != nil {
			return err
		}
		defer vlog.Close()
		if err := node.Ring.AttachVNodeLog(vlog); err != nil {
			return err
		}
	}

	if cfg.JoinAddr != "" {
		if err := joinThroughSeed(node, tm, cfg.JoinAddr); err != nil {
			return errors.Wrapf(err, "join through %s", cfg.JoinAddr)
		}
		log.Infow("joined ring", "seed", cfg.JoinAddr)
	}

	if cfg.HTTPAddr != "" {
		facade := jsonrpc.NewServer(node, log)
		go func() {
			log.Infow("facade listening", "addr", cfg.HTTPAddr)
			if err := http.ListenAndServe(cfg.HTTPAddr, facade); err != nil {
				log.Warnw("facade server stopped", "error", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Infow("shutting down")
	if err := node.Leave(); err != nil {
		log.Warnw("leave notifications failed", "error", err)
	}
	tm.Shutdown()
	return nil
}

// joinThroughSeed exchanges a transport handshake with the seed node's
// HTTP facade, registers the resulting transport, and announces this node
// via JoinDHT.
func joinThroughSeed(node *chord.Node, tm chord.TransportManager, seedAddr string) error {
	t, err := tm.NewTransport()
	if err != nil {
		return err
	}
	offer, err := t.GetHandshakeInfo(node.Config.SessionManager, chord.HandshakeOffer)
	if err != nil {
		return err
	}

	body, err := json.Marshal(jsonrpc.HandshakeRequest{
		Info: base64.StdEncoding.EncodeToString(offer),
	})
	if err != nil {
		return err
	}
	resp, err := http.Post("http://"+seedAddr+"/handshake", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("seed handshake returned %s", resp.Status)
	}

	var envelope struct {
		Result jsonrpc.HandshakeResponse `json:"result"`
		Error  string                    `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if envelope.Error != "" {
		return errors.New(envelope.Error)
	}

	answer, err := base64.StdEncoding.DecodeString(envelope.Result.Info)
	if err != nil {
		return err
	}
	seedDid, err := t.RegisterRemoteInfo(answer)
	if err != nil {
		return err
	}
	tm.Register(seedDid, t)
	return node.Handler.SendJoinDHT(seedDid)
}
