package config

import "time"

type Settings struct {
	ListenAddr     string
	PanelURL       string
	ID             string
	Key            string
	HypervisorHost string
	TokenID        string // user@realm!name
	TokenSecret    string
	UseSSL         bool
	CaCert         string // CA certificate file path
	SSLVerify      bool
	ConnectTimeout time.Duration // upstream console connect + handshake bound
	MaxSessions    int           // 0 = unlimited
	RedisAddr      string        // empty disables the presence mirror
	RedisPassword  string
	RedisDB        int
	HTTPThreads    int
	PoolMaxWorkers int // workers for the background submit pool
	PoolQueueSize  int // job queue size for the background submit pool
}

type Config struct {
	Server struct {
		Listen string `ini:"listen"`
		URL    string `ini:"url"`
		ID     string `ini:"id"`
		Key    string `ini:"key"`
	} `ini:"server"`
	Hypervisor struct {
		Host           string `ini:"host"`
		TokenID        string `ini:"token_id"`
		TokenSecret    string `ini:"token_secret"`
		ConnectTimeout int    `ini:"connect_timeout"`
	} `ini:"hypervisor"`
	SSL struct {
		Verify bool   `ini:"verify"`
		CaCert string `ini:"ca_cert"`
	} `ini:"ssl"`
	Relay struct {
		MaxSessions int `ini:"max_sessions"`
	} `ini:"relay"`
	Redis struct {
		Address  string `ini:"address"`
		Password string `ini:"password"`
		DB       int    `ini:"db"`
	} `ini:"redis"`
	Pool struct {
		MaxWorkers int `ini:"max_workers"`
		QueueSize  int `ini:"queue_size"`
	} `ini:"pool"`
	Logging struct {
		Debug bool `ini:"debug"`
	} `ini:"logging"`
}
