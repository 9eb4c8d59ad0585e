package conf

import "time"

// MirrorBootstrap is the mirror process's configuration: the HTTP front
// end, the control-plane listener, the tunnel listener and the cache
// root.
type MirrorBootstrap struct {
	Hostname string  `yaml:"hostname"`
	PidFile  string  `yaml:"pidfile"`
	Logger   *Logger `yaml:"logger"`

	HTTP         *HTTPServer   `yaml:"http"`
	ControlPlane *ControlPlane `yaml:"control_plane"`
	Tunnel       *TunnelListen `yaml:"tunnel"`
	Cache        *Cache        `yaml:"cache"`
}

// ProxyBootstrap is the proxy process's configuration: the tunnel it
// dials out on and the upstream registry it fetches from.
type ProxyBootstrap struct {
	Hostname string  `yaml:"hostname"`
	Logger   *Logger `yaml:"logger"`

	Tunnel   *TunnelDial `yaml:"tunnel"`
	Upstream *Upstream   `yaml:"upstream"`
}

type Logger struct {
	Level      string `yaml:"level"`
	Path       string `yaml:"path"`
	Caller     bool   `yaml:"caller"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

type HTTPServer struct {
	Addr              string        `yaml:"addr"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
	PProf             *PProf        `yaml:"pprof"`
}

type PProf struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ControlPlane is the mirror's cache-query/upload listener. Default
// address is 0.0.0.0:4004 per spec §6.
type ControlPlane struct {
	Addr string `yaml:"addr"`
}

// TunnelListen is the mirror-side tunnel listener address.
type TunnelListen struct {
	Addr string `yaml:"addr"`
}

// TunnelDial is the proxy-side remote endpoint to dial.
type TunnelDial struct {
	Addr          string        `yaml:"addr"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// Cache is the mirror's on-disk cache directory.
type Cache struct {
	Root string `yaml:"root"`
}

// Upstream is the proxy-side crates.io-compatible base URL, e.g.
// https://crates.io/api/v1/crates.
type Upstream struct {
	BaseURL string `yaml:"base_url"`
}

// DefaultMirrorBootstrap returns a bootstrap with the defaults spec §6
// names explicitly (control-plane 0.0.0.0:4004).
func DefaultMirrorBootstrap() *MirrorBootstrap {
	return &MirrorBootstrap{
		Logger: &Logger{Level: "info"},
		HTTP:   &HTTPServer{Addr: ":8080", ReadHeaderTimeout: 10 * time.Second},
		ControlPlane: &ControlPlane{
			Addr: "0.0.0.0:4004",
		},
		Tunnel: &TunnelListen{Addr: "0.0.0.0:4005"},
		Cache:  &Cache{Root: "./cache"},
	}
}

// DefaultProxyBootstrap returns a bootstrap with crates.io as the
// default upstream, per spec §6.
func DefaultProxyBootstrap() *ProxyBootstrap {
	return &ProxyBootstrap{
		Logger: &Logger{Level: "info"},
		Tunnel: &TunnelDial{
			ReconnectWait: time.Second,
		},
		Upstream: &Upstream{
			BaseURL: "https://crates.io/api/v1/crates",
		},
	}
}
