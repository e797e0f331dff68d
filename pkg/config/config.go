package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"
	pos "github.com/proxchat/relay/pkg/os"
	"github.com/spf13/pflag"
)

var ErrStartup = errors.New("bad config")

const DefaultStun = "stun:stun.l.google.com:19302"

type Config struct {
	Server     Server     `fig:"server"`
	Relay      Relay      `fig:"relay"`
	Webrtc     Webrtc     `fig:"webrtc"`
	Monitoring Monitoring `fig:"monitoring"`
	Verbose    bool       `fig:"verbose"`
}

type Server struct {
	Name     string `fig:"name" default:"MCBE Proximity Chat Server"`
	Password string `fig:"password"`
	// Address and Port define the public endpoint shared by
	// the plain and TLS traffic.
	Address string `fig:"address" default:"localhost"`
	Port    int    `fig:"port" default:"8080"`
	// PlainPort is the loopback port of the plain backend, 0 is any.
	PlainPort int `fig:"plain_port"`
	Tls       Tls `fig:"tls"`
}

type Tls struct {
	Enabled bool `fig:"enabled"`
	// Port is the loopback port of the TLS backend, 0 is any.
	Port int    `fig:"port"`
	Cert string `fig:"cert"`
	Key  string `fig:"key"`
}

type Relay struct {
	MaxDistance       float64       `fig:"max_distance" default:"25"`
	SpectatorToPlayer bool          `fig:"spectator_to_player"`
	ClassifyTimeout   time.Duration `fig:"classify_timeout" default:"5s"`
	CommandTimeout    time.Duration `fig:"command_timeout" default:"10s"`
	PollInterval      time.Duration `fig:"poll_interval" default:"5ms"`
}

type Webrtc struct {
	IceServers []webrtc.ICEServer `fig:"ice_servers"`
}

type Monitoring struct {
	Port             int    `fig:"port" default:"6601"`
	URLPrefix        string `fig:"url_prefix"`
	MetricEnabled    bool   `fig:"metric_enabled"`
	ProfilingEnabled bool   `fig:"profiling_enabled"`
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

func (s *Server) GetAddr() string { return s.Address + ":" + strconv.Itoa(s.Port) }

// NewConfig reads the config file, env vars and the command line args.
// Flags take precedence over everything else.
func NewConfig(args []string) (conf Config, err error) {
	fs := pflag.NewFlagSet("proxchat", pflag.ContinueOnError)
	path := fs.String("conf", "", "Set custom configuration file directory")
	env := fs.String("env", "", "Set custom .env file path")
	address := fs.String("address", "", "Public server address (host)")
	port := fs.IntP("port", "p", 0, "Public server port")
	tls := fs.Bool("tls", false, "Accept TLS on the public port")
	verbose := fs.BoolP("verbose", "v", false, "Show debug logs")
	if err = fs.Parse(args); err != nil {
		return
	}

	if err = LoadDotEnv(*env); err != nil {
		return conf, fmt.Errorf("%w: .env: %v", ErrStartup, err)
	}
	if err = LoadConfig(&conf, *path); err != nil {
		return conf, fmt.Errorf("%w: %v", ErrStartup, err)
	}

	// a plain PORT env var is what most hosting providers give
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && os.Getenv(EnvPrefix+"_SERVER_PORT") == "" {
		conf.Server.Port = p
	}
	if fs.Changed("address") {
		conf.Server.Address = *address
	}
	if fs.Changed("port") {
		conf.Server.Port = *port
	}
	if fs.Changed("tls") {
		conf.Server.Tls.Enabled = *tls
	}
	if fs.Changed("verbose") {
		conf.Verbose = *verbose
	}
	if len(conf.Webrtc.IceServers) == 0 {
		conf.Webrtc.IceServers = []webrtc.ICEServer{{URLs: []string{DefaultStun}}}
	}
	return conf, conf.Validate()
}

// Validate checks the params which make the app start impossible.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %v is out of range", ErrStartup, c.Server.Port)
	}
	if tls := c.Server.Tls; tls.Enabled {
		if tls.Cert == "" || tls.Key == "" {
			return fmt.Errorf("%w: TLS requires both cert and key files", ErrStartup)
		}
		for _, f := range []string{tls.Cert, tls.Key} {
			if !pos.IsFile(f) {
				return fmt.Errorf("%w: TLS file %v is not found", ErrStartup, f)
			}
		}
	}
	for _, server := range c.Webrtc.IceServers {
		if len(server.URLs) == 0 {
			return fmt.Errorf("%w: ICE server without urls", ErrStartup)
		}
		for _, u := range server.URLs {
			url, err := ice.ParseURL(u)
			if err != nil {
				return fmt.Errorf("%w: ICE server %v: %v", ErrStartup, u, err)
			}
			if url.Scheme == ice.SchemeTypeTURN || url.Scheme == ice.SchemeTypeTURNS {
				if server.Username == "" || server.Credential == nil || server.Credential == "" {
					return fmt.Errorf("%w: TURN or TURNS servers should have both username and credential: %v", ErrStartup, u)
				}
			}
		}
	}
	return nil
}
