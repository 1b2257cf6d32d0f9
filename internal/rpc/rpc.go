// Package rpc provides Unix socket IPC between a running node and the
// inspect CLI.
package rpc

import (
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"
	"time"

	"github.com/rs/zerolog"

	"basenode/internal/board"
	"basenode/internal/configstore"
	"basenode/internal/eeprom"
	"basenode/internal/flash"
	"basenode/internal/ota"
)

// MaxFlashRead bounds one ReadFlash call.
const MaxFlashRead = 4096

// Service is the RPC service exposed by a node. It only reads: the
// persisted record, flash contents and static boot facts.
type Service struct {
	eeprom eeprom.Store
	flash  flash.Device
	info   StatusReply
	log    zerolog.Logger
}

// NewService builds the service. status carries the facts fixed at boot.
func NewService(store eeprom.Store, dev flash.Device, status StatusReply, log zerolog.Logger) *Service {
	return &Service{eeprom: store, flash: dev, info: status, log: log}
}

// ReadConfigArgs is the request for ReadConfig.
type ReadConfigArgs struct{}

// ReadConfigReply is the response for ReadConfig.
type ReadConfigReply struct {
	Config configstore.NodeConfig
	Raw    []byte
}

// ReadFlashArgs is the request for ReadFlash.
type ReadFlashArgs struct {
	Addr uint32
	Len  int
}

// ReadFlashReply is the response for ReadFlash.
type ReadFlashReply struct {
	Data []byte
}

// StatusArgs is the request for Status.
type StatusArgs struct{}

// StatusReply is the response for Status.
type StatusReply struct {
	BootID      string
	NodeID      uint8
	Version     string
	BootedAt    time.Time
	Board       *board.Info
	StagedImage int
}

// ReadConfig returns the persisted config record.
func (s *Service) ReadConfig(args *ReadConfigArgs, reply *ReadConfigReply) error {
	raw := make([]byte, configstore.RecordSize)
	if err := s.eeprom.ReadBlock(configstore.RecordOffset, raw); err != nil {
		return fmt.Errorf("reading config record: %w", err)
	}
	cfg, err := configstore.Decode(raw)
	if err != nil {
		return err
	}
	reply.Config = cfg
	reply.Raw = raw
	return nil
}

// ReadFlash returns up to MaxFlashRead bytes of flash.
func (s *Service) ReadFlash(args *ReadFlashArgs, reply *ReadFlashReply) error {
	if args.Len <= 0 || args.Len > MaxFlashRead {
		return fmt.Errorf("flash read length %d out of range (1..%d)", args.Len, MaxFlashRead)
	}
	reply.Data = make([]byte, args.Len)
	s.flash.ReadBytes(args.Addr, reply.Data)
	return nil
}

// Status returns the boot facts and the size of any staged OTA image.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	*reply = s.info
	if img, ok := ota.StagedImage(s.flash); ok {
		reply.StagedImage = len(img)
	} else {
		reply.StagedImage = -1
	}
	return nil
}

// Server is a running RPC listener.
type Server struct {
	listener net.Listener
	path     string
}

// StartServer starts the Unix socket RPC server.
func StartServer(socketPath string, svc *Service, log zerolog.Logger) (*Server, error) {
	server := netrpc.NewServer()
	if err := server.RegisterName("Node", svc); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove existing socket file if present
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	// Set socket permissions
	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return &Server{listener: listener, path: socketPath}, nil
}

// Close stops accepting and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	os.Remove(s.path)
	return err
}

// Client is a client for the node RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// ReadConfig fetches the persisted record.
func (c *Client) ReadConfig() (*ReadConfigReply, error) {
	reply := &ReadConfigReply{}
	if err := c.client.Call("Node.ReadConfig", &ReadConfigArgs{}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// ReadFlash fetches n bytes of flash at addr.
func (c *Client) ReadFlash(addr uint32, n int) ([]byte, error) {
	reply := &ReadFlashReply{}
	if err := c.client.Call("Node.ReadFlash", &ReadFlashArgs{Addr: addr, Len: n}, reply); err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// Status fetches the node's boot facts.
func (c *Client) Status() (*StatusReply, error) {
	reply := &StatusReply{}
	if err := c.client.Call("Node.Status", &StatusArgs{}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
