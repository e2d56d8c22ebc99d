// Package config groups the immutable-after-construction configuration
// for a hotrod-pool client: a plain constructor for library use plus a
// cmd/-only flag parser for the demo binary.
package config

import (
	"flag"
	"time"

	"github.com/jseow5177/hotrod-pool/pool"
	"github.com/jseow5177/hotrod-pool/transport"
)

// PoolConfig is pool.Config plus the seed endpoints to prepare at
// startup.
type PoolConfig struct {
	Servers []transport.Endpoint
	Pool    pool.Config
}

// TransportConfig controls dialing/deadlines for the default factory.
type TransportConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// ClientConfig is everything needed to construct a hotrod-pool Client.
type ClientConfig struct {
	CacheName  []byte
	MaxRetries int
	Pool       PoolConfig
	Transport  TransportConfig
}

// Default returns sane defaults: one idle connection per endpoint warm
// at all times, no cap on the number of active connections or on the
// pool's global total.
func Default(cacheName string, servers ...transport.Endpoint) ClientConfig {
	return ClientConfig{
		CacheName:  []byte(cacheName),
		MaxRetries: 3,
		Pool: PoolConfig{
			Servers: servers,
			Pool: pool.Config{
				MinIdle:                 1,
				MaxActive:               -1,
				MaxTotal:                0,
				TestOnBorrow:            false,
				TestOnReturn:            false,
				TimeBetweenEvictionRuns: 30 * time.Second,
			},
		},
		Transport: TransportConfig{
			ConnectTimeout: 5 * time.Second,
		},
	}
}

// FlagConfig holds the cmd/-only flag parsing for the demo binary; kept
// separate from ClientConfig so library consumers never pay for
// flag.Parse as a side effect of constructing a client.
type FlagConfig struct {
	HttpHost string
	HttpPort int
	TcpHost  string
	TcpPort  int
	MinIdle  int
	MaxOpen  int
}

func ParseFlags() *FlagConfig {
	c := &FlagConfig{}
	flag.StringVar(&c.HttpHost, "http-host", "localhost", "host of http demo server")
	flag.IntVar(&c.HttpPort, "http-port", 3030, "port of http demo server")
	flag.StringVar(&c.TcpHost, "tcp-host", "localhost", "host of tcp demo server")
	flag.IntVar(&c.TcpPort, "tcp-port", 4000, "port of tcp demo server")
	flag.IntVar(&c.MinIdle, "min-idle", 1, "min idle connections per endpoint")
	flag.IntVar(&c.MaxOpen, "max-open", 0, "max open connections (0 = unbounded)")
	flag.Parse()
	return c
}
